// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/camtex/internal/cache"
	"github.com/gogpu/camtex/pixfmt"
)

// Embedded WGSL shader sources.

//go:embed shaders/quad.wgsl
var quadShaderSource string

//go:embed shaders/bgra.wgsl
var bgraShaderSource string

//go:embed shaders/ycbcr.wgsl
var ycbcrShaderSource string

const vertexEntryPoint = "map_texture"

// program is the vertex/fragment pair used for one pixel format.
type program struct {
	source   string
	fragment string
	planes   int
}

// rangeConstants returns the luma offset and the luma and chroma scales that
// map normalized stored samples to full range. Chroma is never compressed.
func rangeConstants(r pixfmt.Range) (lumaOffset, lumaScale, chromaScale float64) {
	black, white := r.LumaLevels()
	return float64(black) / 255, 255 / float64(white-black), 1
}

// rangeParams returns the WGSL function that yields rangeConstants.
func rangeParams(r pixfmt.Range) string {
	lumaOffset, lumaScale, chromaScale := rangeConstants(r)
	return fmt.Sprintf(
		"fn range_params() -> vec3<f32> {\n    return vec3<f32>(%.7f, %.7f, %.7f);\n}\n",
		lumaOffset, lumaScale, chromaScale)
}

// programFor assembles the shader program for format.
func programFor(format pixfmt.Format) (program, error) {
	switch {
	case !format.Valid():
		return program{}, fmt.Errorf("%w: %v", pixfmt.ErrUnknownFormat, format)
	case format.Planar():
		return program{
			source:   quadShaderSource + "\n" + rangeParams(format.Range()) + "\n" + ycbcrShaderSource,
			fragment: "display_ycbcr",
			planes:   format.PlaneCount(),
		}, nil
	default:
		return program{
			source:   quadShaderSource + "\n" + bgraShaderSource,
			fragment: "display_texture",
			planes:   format.PlaneCount(),
		}, nil
	}
}

// validate compiles the program to SPIR-V with naga.
func (p program) validate() error {
	if _, err := naga.Compile(p.source); err != nil {
		return fmt.Errorf("compile %s: %w", p.fragment, err)
	}
	return nil
}

// programs holds validated programs; every surface for a format shares one.
var programs = cache.New[pixfmt.Format, program](0)

// validProgram returns the validated program for format.
func validProgram(format pixfmt.Format) (program, error) {
	return programs.GetOrBuild(format, func() (program, error) {
		p, err := programFor(format)
		if err != nil {
			return program{}, err
		}
		if err := p.validate(); err != nil {
			return program{}, err
		}
		return p, nil
	})
}
