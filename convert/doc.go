// Package convert turns captured frames into GPU textures.
//
// Each memory plane becomes one texture: packed BGRA frames yield a single
// BGRA8Unorm texture, bi-planar YCbCr frames yield an R8Unorm luma texture and
// an RG8Unorm chroma texture at half resolution. No colorspace conversion
// happens on the CPU; the fragment shader in package render decodes YCbCr.
//
// When a frame carries textures that already alias its memory (see
// [NativeTextures]) they are used directly. Otherwise the planes are copied with
// queue writes.
package convert
