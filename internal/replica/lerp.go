package replica

import "github.com/go-gl/mathgl/mgl64"

// LerpFloat interpolates scalars.
func LerpFloat(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpVec2 interpolates 2D points.
func LerpVec2(a, b mgl64.Vec2, t float64) mgl64.Vec2 {
	return a.Add(b.Sub(a).Mul(t))
}

// LerpVec3 interpolates 3D points.
func LerpVec3(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
