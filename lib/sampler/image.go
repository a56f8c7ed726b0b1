// Copyright 2026 Plinth AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sampler

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// writePNG converts CHW float32 pixels in [-1, 1] to an 8-bit RGB image and
// writes it to path. Values are rescaled to [0, 255] and clipped.
func writePNG(path string, pixels []float32, size int) error {
	const channels = 3
	if len(pixels) < channels*size*size {
		return fmt.Errorf("pixel buffer holds %d values, need %d", len(pixels), channels*size*size)
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*size + x
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(pixels[i]),
				G: toByte(pixels[plane+i]),
				B: toByte(pixels[2*plane+i]),
				A: 255,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// toByte rescales one [-1, 1] sample to [0, 255] with clipping.
func toByte(v float32) uint8 {
	scaled := (v + 1) / 2 * 255
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}
