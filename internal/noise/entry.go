package noise

import "image"

// WhiteNoise returns the unshaped uniform field.
func (g *Generator) WhiteNoise(width, height int) (*image.Gray, error) {
	return g.Generate(Params{Color: White, Width: width, Height: height})
}

// RedNoise repeatedly blurs the field, concentrating energy in low frequencies.
func (g *Generator) RedNoise(width, height, iterations int, sigma float32) (*image.Gray, error) {
	return g.Generate(Params{Color: Red, Width: width, Height: height, Iterations: iterations, Sigma: sigma})
}

// BlueNoise repeatedly subtracts the blurred field, leaving high frequencies.
func (g *Generator) BlueNoise(width, height, iterations int, sigma float32) (*image.Gray, error) {
	return g.Generate(Params{Color: Blue, Width: width, Height: height, Iterations: iterations, Sigma: sigma})
}

// GreenNoise keeps the band between lowSigma and highSigma.
// lowSigma is expected to be below highSigma; see WithStrictBands.
func (g *Generator) GreenNoise(width, height, iterations int, lowSigma, highSigma float32) (*image.Gray, error) {
	return g.Generate(Params{Color: Green, Width: width, Height: height, Iterations: iterations, LowSigma: lowSigma, HighSigma: highSigma})
}

// PurpleNoise removes the band between lowSigma and highSigma.
// lowSigma is expected to be below highSigma; see WithStrictBands.
func (g *Generator) PurpleNoise(width, height, iterations int, lowSigma, highSigma float32) (*image.Gray, error) {
	return g.Generate(Params{Color: Purple, Width: width, Height: height, Iterations: iterations, LowSigma: lowSigma, HighSigma: highSigma})
}

var std = New()

func WhiteNoise(width, height int) (*image.Gray, error) {
	return std.WhiteNoise(width, height)
}

func RedNoise(width, height, iterations int, sigma float32) (*image.Gray, error) {
	return std.RedNoise(width, height, iterations, sigma)
}

func BlueNoise(width, height, iterations int, sigma float32) (*image.Gray, error) {
	return std.BlueNoise(width, height, iterations, sigma)
}

func GreenNoise(width, height, iterations int, lowSigma, highSigma float32) (*image.Gray, error) {
	return std.GreenNoise(width, height, iterations, lowSigma, highSigma)
}

func PurpleNoise(width, height, iterations int, lowSigma, highSigma float32) (*image.Gray, error) {
	return std.PurpleNoise(width, height, iterations, lowSigma, highSigma)
}
