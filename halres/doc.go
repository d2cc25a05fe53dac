// Package halres provides concrete GPU resource kinds for gpures, backed by
// gogpu/wgpu HAL devices.
//
// Textures and buffers created through an [Allocator] are registered with
// the owner's resource manager and destroyed on the device when the manager
// releases or evicts them. When a creation call fails for lack of memory the
// allocator asks the manager to free some video memory and retries once.
//
//	alloc, err := halres.NewAllocator(device, halres.WithBudget(256<<20))
//	g := owner.Protect()
//	tex, err := alloc.CreateTexture(g, halres.TextureConfig{
//	    Width:     1024,
//	    Height:    1024,
//	    Format:    gputypes.TextureFormatRGBA8Unorm,
//	    Evictable: true,
//	})
//	g.Unlock()
package halres
