// Package pixfmt describes the camera pixel encodings understood by camtex.
//
// A [Format] is chosen once per capture session. Everything downstream is a pure
// function of it: the FourCC tag handed to the capture backend ([Format.CaptureTag]),
// the number of memory planes a frame carries ([Format.PlaneCount]) and the GPU
// texture layout of each plane ([Format.Planes]).
//
// Adding a new encoding means extending this package and the plane upload in
// package convert together.
package pixfmt
