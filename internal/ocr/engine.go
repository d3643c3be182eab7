// Package ocr reads plate text with Tesseract.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Engine wraps one Tesseract client. Calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func NewEngine(language, whitelist string) (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR language %q: %w", language, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR page segmentation: %w", err)
	}
	if whitelist != "" {
		if err := client.SetWhitelist(whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("set OCR whitelist: %w", err)
		}
	}
	// Plates are not dictionary words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &Engine{client: client}, nil
}

// ReadLines returns the recognized text lines in reading order.
func (e *Engine) ReadLines(ctx context.Context, img image.Image) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set OCR image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	lines := make([]string, 0, len(boxes))
	for _, b := range boxes {
		if line := strings.TrimSpace(b.Word); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
