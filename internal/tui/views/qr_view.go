package views

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/matheus3301/wppgw/internal/tui/ui"
	"github.com/matheus3301/wppgw/internal/vendor"
	"github.com/rivo/tview"
)

// quietZone is the light margin drawn around the symbol, in modules.
const quietZone = 2

// QRView shows the pairing QR code while the instance is in qr state.
type QRView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewQRView creates a new QR view.
func NewQRView(theme *ui.Theme) *QRView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Pair Device ")
	tv.SetTitleColor(theme.TitleColor)

	return &QRView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (qv *QRView) Name() string { return "Pairing" }

// Hints implements ui.Component.
func (qv *QRView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: ":qr", Description: "New code"},
		{Key: ":qr <file>", Description: "Save PNG"},
		{Key: "Esc", Description: "Back"},
	}
}

// ShowImage renders a QR image data URL. When the image cannot be drawn in
// the terminal the view points at :qr <file> instead.
func (qv *QRView) ShowImage(dataURL string) {
	qv.Clear()
	grid, err := decodeQRImage(dataURL)
	if err != nil {
		_, _ = fmt.Fprintf(qv, "\n\n%s\n\n[::d]Cannot draw the code here (%s).\nUse :qr <file.png> to save it.",
			"Scan the QR code with WhatsApp", tview.Escape(err.Error()))
		return
	}
	_, _ = fmt.Fprintf(qv, "\nScan this QR code with WhatsApp:\n\n[white:black]%s[-:-]\n[::d]Waiting for the device to pair...", renderHalfBlocks(grid))
}

// ShowMessage displays a status message.
func (qv *QRView) ShowMessage(msg string) {
	qv.Clear()
	_, _ = fmt.Fprintf(qv, "\n\n%s", tview.Escape(msg))
}

func decodeQRImage(dataURL string) ([][]bool, error) {
	data, err := vendor.DecodeQRImage(dataURL)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode qr png: %w", err)
	}
	return sampleModules(img)
}

// sampleModules recovers the module grid of a QR code image, without its
// quiet zone. The top-left finder pattern is 7 modules wide, which gives
// the module size.
func sampleModules(img image.Image) ([][]bool, error) {
	dark := func(x, y int) bool {
		r, g, b, _ := img.At(x, y).RGBA()
		return (r+g+b)/3 < 0x8000
	}

	bounds := img.Bounds()
	minX, minY, maxX, maxY := bounds.Max.X, bounds.Max.Y, -1, -1
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !dark(x, y) {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return nil, errors.New("no code in image")
	}

	run := 0
	for x := minX; x <= maxX && dark(x, minY); x++ {
		run++
	}
	if run < 7 {
		return nil, errors.New("code too small")
	}

	// Rescale from the whole symbol so rounding in the finder width does
	// not accumulate across modules.
	width, height := float64(maxX-minX+1), float64(maxY-minY+1)
	cols := int(math.Round(width * 7 / float64(run)))
	rows := int(math.Round(height * 7 / float64(run)))
	mw, mh := width/float64(cols), height/float64(rows)

	grid := make([][]bool, rows)
	for r := range rows {
		grid[r] = make([]bool, cols)
		for c := range cols {
			grid[r][c] = dark(minX+int((float64(c)+0.5)*mw), minY+int((float64(r)+0.5)*mh))
		}
	}
	return grid, nil
}

// renderHalfBlocks draws grid two rows per line. Light modules are drawn
// as blocks so the code keeps its polarity on a dark terminal.
func renderHalfBlocks(grid [][]bool) string {
	size := len(grid) + 2*quietZone
	light := func(r, c int) bool {
		r, c = r-quietZone, c-quietZone
		if r < 0 || r >= len(grid) || c < 0 || c >= len(grid[r]) {
			return true
		}
		return !grid[r][c]
	}

	width := size
	if len(grid) > 0 {
		width = len(grid[0]) + 2*quietZone
	}

	var sb strings.Builder
	for r := 0; r < size; r += 2 {
		for c := range width {
			top := light(r, c)
			bot := r+1 < size && light(r+1, c)
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
