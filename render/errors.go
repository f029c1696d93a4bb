// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import "errors"

var (
	// ErrDefaultLibrarySetup means the shader program could not be compiled.
	ErrDefaultLibrarySetup = errors.New("render: shader library setup failed")

	// ErrPipelineStateSetup means the render pipeline could not be built.
	// The surface is unusable.
	ErrPipelineStateSetup = errors.New("render: pipeline state setup failed")

	// ErrTextureSizeBufferSetup means the uniform buffer holding the texture
	// size could not be allocated.
	ErrTextureSizeBufferSetup = errors.New("render: texture size buffer setup failed")

	// ErrTextureSizeBufferUpdate means a texture set could not be installed
	// because its size or format does not fit the surface.
	ErrTextureSizeBufferUpdate = errors.New("render: texture size buffer update failed")

	// ErrSurfaceClosed is returned by operations on a closed surface.
	ErrSurfaceClosed = errors.New("render: surface closed")
)
