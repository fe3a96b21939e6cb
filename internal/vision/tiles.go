package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// TileSize is the edge length in pixels every extracted tile is scaled to,
// matching the classifier's input layer.
const TileSize = 40

// TileCount is the number of squares on the board.
const TileCount = 64

// ExtractTiles cuts the located board into 64 grayscale tiles, row-major
// from the top-left of the on-screen board, each scaled to
// TileSize x TileSize with values in [0, 1].
func ExtractTiles(frame *Frame, region *BoardRegion) ([][]float64, error) {
	gray, err := frame.GrayMat()
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	frameRect := image.Rect(0, 0, gray.Cols(), gray.Rows())
	if !region.Rect.In(frameRect) {
		return nil, fmt.Errorf("board region %v outside frame %v", region.Rect, frameRect)
	}
	if region.Rect.Dx() < 8 || region.Rect.Dy() < 8 {
		return nil, fmt.Errorf("board region %v too small to split into tiles", region.Rect)
	}

	tileW := float64(region.Rect.Dx()) / 8
	tileH := float64(region.Rect.Dy()) / 8

	tiles := make([][]float64, 0, TileCount)
	for row := 0; row < 8; row++ {
		top := region.Rect.Min.Y + int(tileH*float64(row))
		bottom := top + int(tileH)
		for col := 0; col < 8; col++ {
			left := region.Rect.Min.X + int(tileW*float64(col))
			right := left + int(tileW)

			tile, err := scaleTile(gray, image.Rect(left, top, right, bottom))
			if err != nil {
				return nil, fmt.Errorf("tile (%d,%d): %w", row, col, err)
			}
			tiles = append(tiles, tile)
		}
	}
	return tiles, nil
}

// scaleTile crops one square, scales it to the classifier input size and
// flattens it row-major.
func scaleTile(gray gocv.Mat, rect image.Rectangle) ([]float64, error) {
	crop := gray.Region(rect)
	defer crop.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(crop, &resized, image.Pt(TileSize, TileSize), 0, 0, gocv.InterpolationArea)

	scaled := gocv.NewMat()
	defer scaled.Close()
	resized.ConvertTo(&scaled, gocv.MatTypeCV32F)
	scaled.DivideFloat(255.0)

	tile := make([]float64, 0, TileSize*TileSize)
	for y := 0; y < TileSize; y++ {
		for x := 0; x < TileSize; x++ {
			tile = append(tile, float64(scaled.GetFloatAt(y, x)))
		}
	}
	return tile, nil
}
