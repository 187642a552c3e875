// Package drive turns directional commands into per-wheel velocity targets.
package drive

// Vector is a 2D navigation or wheel mix vector.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y}
}

// Scale returns k*v.
func (v Vector) Scale(k float64) Vector {
	return Vector{X: k * v.X, Y: k * v.Y}
}

// Mix projects the navigation vector v onto a wheel's fixed mix vector m.
// Every wheel uses the same projection; only m differs.
func Mix(m, v Vector) float64 {
	return m.X*v.X + m.Y*v.Y
}
