package main

import (
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Panel size in landscape orientation.
const (
	displayWidth  = 320
	displayHeight = 240
)

// Character cell of basicfont.Face7x13.
const (
	cw = 7
	ch = 13
)

var (
	white     = color.RGBA{255, 255, 255, 255}
	yellow    = color.RGBA{255, 255, 0, 255}
	green     = color.RGBA{0, 255, 0, 255}
	red       = color.RGBA{255, 0, 0, 255}
	lightGray = color.RGBA{153, 153, 153, 255}
)

// drawText draws text with its baseline at (x, y).
func drawText(img stddraw.Image, x, y int, text string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// drawBigText draws text scale times the font size with its top-left at (x, y).
func drawBigText(img stddraw.Image, x, y, scale int, text string, col color.Color) {
	w := font.MeasureString(basicfont.Face7x13, text).Ceil()
	small := image.NewRGBA(image.Rect(0, 0, w, ch+3))
	drawText(small, 0, ch, text, col)
	dst := image.Rect(x, y, x+w*scale, y+(ch+3)*scale)
	draw.NearestNeighbor.Scale(img, dst, small, small.Bounds(), draw.Over, nil)
}

// drawHLine draws a horizontal line.
func drawHLine(img stddraw.Image, x0, x1, y, width int, col color.Color) {
	stddraw.Draw(img, image.Rect(x0, y, x1+1, y+width), image.NewUniform(col), image.Point{}, stddraw.Src)
}

// occupancyColor returns a color for the fill level (green, yellow, red).
func occupancyColor(occ models.Occupancy) color.Color {
	if occ.Full() {
		return red
	}
	if occ.MaxOccupancy > 0 && occ.Inside*4 >= occ.MaxOccupancy*3 {
		return yellow
	}
	return green
}

// stationLine is the one-line summary of a station.
func stationLine(st models.Station) string {
	switch {
	case st.Error != "" && st.Phase == models.PhaseUnconfigured:
		return "Fehler: " + st.Error
	case st.Phase == models.PhaseConfiguring:
		return st.Label + " ..."
	case st.Message != "":
		return st.Label + ": " + st.Message
	default:
		return st.Label
	}
}

// clip shortens s to at most n characters.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "~"
}

// drawStatus renders a full frame into img.
func drawStatus(img *image.RGBA, s Status) {
	stddraw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, stddraw.Src)
	cols := img.Bounds().Dx()/cw - 2

	header := fmt.Sprintf("%s.local  %s", s.State.Info.Hostname, s.IP)
	drawText(img, cw, ch+2, clip(header, cols), white)
	if !s.Online {
		drawText(img, cw, 2*ch+2, clip("API nicht erreichbar", cols), red)
	}

	occ := s.State.Occupancy
	big := fmt.Sprintf("%*d/%d", occ.Digits, occ.Inside, occ.MaxOccupancy)
	drawBigText(img, cw, 3*ch, 4, big, occupancyColor(occ))

	ys := 3*ch + 4*(ch+3) + ch/2
	drawHLine(img, cw, img.Bounds().Dx()-2*cw, ys, 2, lightGray)

	y := ys + ch + 4
	for _, st := range s.State.Stations {
		if y > img.Bounds().Dy()-2 {
			break
		}
		col := white
		switch st.Result {
		case models.ResultCheckInSuccess, models.ResultCheckOutSuccess:
			col = green
		case models.ResultCheckInDenied, models.ResultNotCheckedIn:
			col = red
		case models.ResultAlreadyCheckedIn:
			col = yellow
		}
		drawText(img, cw, y, clip(st.Name, 12), lightGray)
		drawText(img, 14*cw, y, clip(stationLine(st), cols-13), col)
		y += ch + 4
	}
}
