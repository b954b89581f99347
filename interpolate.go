package demtiles

import "context"

// InterpolateBilinear returns the bilinearly interpolated samples of raster at
// coords. Each result is NaN if any of the four surrounding samples is
// missing.
func InterpolateBilinear(ctx context.Context, raster Raster, coords [][]float64) ([]float64, error) {
	scaleX, scaleY := raster.Scale()
	corners := make([]Coord, 0, 4*len(coords))
	for _, coord := range coords {
		x0 := scaleX * (int(coord[0]) / scaleX)
		y0 := scaleY * (int(coord[1]) / scaleY)
		corners = append(corners,
			Coord{X: x0, Y: y0},
			Coord{X: x0 + scaleX, Y: y0},
			Coord{X: x0, Y: y0 + scaleY},
			Coord{X: x0 + scaleX, Y: y0 + scaleY},
		)
	}
	samples, err := raster.Samples(ctx, corners)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(coords))
	for i, coord := range coords {
		dx := (coord[0] - float64(corners[4*i].X)) / float64(scaleX)
		dy := (coord[1] - float64(corners[4*i].Y)) / float64(scaleY)
		s := samples[4*i : 4*i+4]
		result[i] = s[0]*(1-dx)*(1-dy) +
			s[1]*dx*(1-dy) +
			s[2]*(1-dx)*dy +
			s[3]*dx*dy
	}
	return result, nil
}
