// Package camtex renders a live camera stream as GPU textures.
//
// A Pipeline connects three stages:
//
//	capture.Source     camera session; delivers frames on its own goroutine
//	convert.Converter  uploads each frame as one texture per plane
//	render.Surface     draws the latest texture set as a full-screen quad
//
// Frames flow one way and late frames are dropped at every stage: the
// capture backend discards backlog, the source keeps only the newest
// undelivered frame and the surface draws only the newest texture set. The
// surface's in-flight limit is the only point where work blocks.
//
// # Quick Start
//
//	p, err := camtex.New(synthetic.New(), device, queue, pixfmt.Packed32BGRA,
//	    camtex.WithErrorHandler(func(err error) { log.Println(err) }))
//	if err != nil {
//	    return err
//	}
//	defer p.Close(context.Background())
//
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	return p.Run(ctx, drawable)
//
// # Errors
//
// Setup failures and authorization denials reach the ErrorHandler once each.
// Frames that cannot be retrieved or uploaded are counted in Stats and
// logged at debug level only.
//
// # Logging
//
// camtex is silent by default. SetLogger installs a *slog.Logger for camtex
// and its sub-packages.
package camtex
