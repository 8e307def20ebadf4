// Package preprocess validates uploaded smear images and turns them into model tensors.
package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/logger"
)

// Options controls validation thresholds and the output tensor shape.
type Options struct {
	MinWidth      int
	MinHeight     int
	TargetSize    int
	MinBrightness float64
	MaxBrightness float64
	BlurThreshold float64
}

// DefaultOptions returns the thresholds used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		MinWidth:      256,
		MinHeight:     256,
		TargetSize:    224,
		MinBrightness: 30,
		MaxBrightness: 220,
		BlurThreshold: 100,
	}
}

// Image is an upload that passed submission checks.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Tensor is a normalized CHW float32 image with values in [0,1].
type Tensor struct {
	Channels int       `json:"channels"`
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Data     []float32 `json:"-"`
}

// Shape returns the tensor dimensions in CHW order.
func (t *Tensor) Shape() []int { return []int{t.Channels, t.Height, t.Width} }

// Quality holds the measurements taken during preprocessing.
type Quality struct {
	Brightness float64
	BlurScore  float64
	Blurry     bool
}

// Preprocessor validates and normalizes smear images.
type Preprocessor struct {
	opts Options
}

// New creates a preprocessor. Zero-valued fields in opts fall back to DefaultOptions.
func New(opts Options) *Preprocessor {
	def := DefaultOptions()
	if opts.MinWidth <= 0 {
		opts.MinWidth = def.MinWidth
	}
	if opts.MinHeight <= 0 {
		opts.MinHeight = def.MinHeight
	}
	if opts.TargetSize <= 0 {
		opts.TargetSize = def.TargetSize
	}
	if opts.MaxBrightness <= 0 {
		opts.MaxBrightness = def.MaxBrightness
	}
	// Zero disables the dark-image gate.
	if opts.MinBrightness < 0 {
		opts.MinBrightness = def.MinBrightness
	}
	if opts.BlurThreshold <= 0 {
		opts.BlurThreshold = def.BlurThreshold
	}
	return &Preprocessor{opts: opts}
}

// Validate performs the cheap submission checks: the payload decodes as an
// image and meets the minimum resolution. Only the header is decoded.
// Parameters:
//   - data: raw upload bytes.
//
// Returns:
//   - *Image: accepted image with its format and dimensions.
//   - error: domain.ErrInvalidInput on any failed check.
func (p *Preprocessor) Validate(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, domain.InvalidInput("empty image payload", nil)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.InvalidInput("file is not a decodable image", err)
	}
	if cfg.Width < p.opts.MinWidth || cfg.Height < p.opts.MinHeight {
		return nil, domain.InvalidInput(fmt.Sprintf(
			"image resolution too low: %dx%d, minimum required: %dx%d",
			cfg.Width, cfg.Height, p.opts.MinWidth, p.opts.MinHeight), nil)
	}
	return &Image{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Process fully decodes img, applies the quality gate and produces the model tensor.
// Parameters:
//   - ctx: request context; checked between steps.
//   - img: image accepted by Validate.
//
// Returns:
//   - *Tensor: TargetSize x TargetSize RGB tensor.
//   - Quality: brightness and blur measurements.
//   - error: domain.ErrPreprocessing if decoding fails or the image is too dark or overexposed.
func (p *Preprocessor) Process(ctx context.Context, img *Image) (*Tensor, Quality, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, Quality{}, domain.Preprocessing("failed to decode image", err)
	}

	gray := toGray(src)
	q := Quality{
		Brightness: meanBrightness(gray),
		BlurScore:  laplacianVariance(gray),
	}
	q.Blurry = q.BlurScore < p.opts.BlurThreshold

	if q.Brightness < p.opts.MinBrightness {
		return nil, q, domain.Preprocessing(fmt.Sprintf("image is too dark for analysis (brightness %.1f)", q.Brightness), nil)
	}
	if q.Brightness > p.opts.MaxBrightness {
		return nil, q, domain.Preprocessing(fmt.Sprintf("image is too bright/overexposed for analysis (brightness %.1f)", q.Brightness), nil)
	}
	if q.Blurry {
		logger.CtxWarn(ctx, "Image appears blurry (blur score: %.2f)", q.BlurScore)
	}
	if err := ctx.Err(); err != nil {
		return nil, q, err
	}

	canvas, content := letterbox(src, p.opts.TargetSize)
	tensor := toTensor(canvas, content)

	logger.CtxDebug(ctx, "Image preprocessed: %dx%d -> %dx%d, brightness %.1f, blur score %.2f",
		img.Width, img.Height, tensor.Width, tensor.Height, q.Brightness, q.BlurScore)
	return tensor, q, nil
}

// letterbox scales src to fit a size x size square, preserving aspect ratio,
// centered on a black canvas. It returns the canvas and the rectangle holding the image.
func letterbox(src image.Image, size int) (*image.RGBA, image.Rectangle) {
	b := src.Bounds()
	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	x0 := (size - w) / 2
	y0 := (size - h) / 2
	content := image.Rect(x0, y0, x0+w, y0+h)
	draw.CatmullRom.Scale(canvas, content, src, b, draw.Over, nil)
	return canvas, content
}

// toTensor stretches each channel of the content area to the full [0,1] range
// and lays the canvas out channel-first. Padding stays at zero.
func toTensor(canvas *image.RGBA, content image.Rectangle) *Tensor {
	size := canvas.Bounds().Dx()
	plane := size * size

	var lo, hi [3]uint8
	lo = [3]uint8{255, 255, 255}
	for y := content.Min.Y; y < content.Max.Y; y++ {
		for x := content.Min.X; x < content.Max.X; x++ {
			px := canvas.RGBAAt(x, y)
			for c, v := range [3]uint8{px.R, px.G, px.B} {
				lo[c] = min(lo[c], v)
				hi[c] = max(hi[c], v)
			}
		}
	}

	t := &Tensor{Channels: 3, Height: size, Width: size, Data: make([]float32, 3*plane)}
	for y := content.Min.Y; y < content.Max.Y; y++ {
		for x := content.Min.X; x < content.Max.X; x++ {
			px := canvas.RGBAAt(x, y)
			for c, v := range [3]uint8{px.R, px.G, px.B} {
				t.Data[c*plane+y*size+x] = stretch(v, lo[c], hi[c])
			}
		}
	}
	return t
}

func stretch(v, lo, hi uint8) float32 {
	if hi <= lo {
		return float32(v) / 255
	}
	return float32(v-lo) / float32(hi-lo)
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
	return gray
}

func meanBrightness(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range g.Pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(g.Pix))
}

// laplacianVariance is the variance of the 4-neighbour Laplacian response,
// a standard focus measure. Low values indicate blur.
func laplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		row := y * g.Stride
		for x := 1; x < w-1; x++ {
			i := row + x
			lap := float64(g.Pix[i-g.Stride]) + float64(g.Pix[i+g.Stride]) +
				float64(g.Pix[i-1]) + float64(g.Pix[i+1]) - 4*float64(g.Pix[i])
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
