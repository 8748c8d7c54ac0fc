package vision

import "image"

func detectionInput(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})
}

func embeddingInput(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// landmarkInput feeds raw 0..255 pixels; 1k3d68 normalises internally.
func landmarkInput(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
}

// toCHW resizes img to w x h and lays it out as normalised planar RGB:
//
//	pixel = (pixel - mean) / std
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	resized := resize(img, w, h)
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*w + x
			data[i] = (float32(r>>8) - mean[0]) / std[0]
			data[plane+i] = (float32(g>>8) - mean[1]) / std[1]
			data[2*plane+i] = (float32(b>>8) - mean[2]) / std[2]
		}
	}
	return data
}

// resize is a nearest-neighbour resize; the output origin is (0,0).
func resize(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if srcW == 0 || srcH == 0 {
		return dst
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, img.At(b.Min.X+x*srcW/w, b.Min.Y+y*srcH/h))
		}
	}
	return dst
}

// crop copies r out of img. Parts of r outside the image stay black, so the
// crop keeps r's size and a fixed mapping back to source coordinates.
func crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	src := r.Intersect(img.Bounds())
	for y := src.Min.Y; y < src.Max.Y; y++ {
		for x := src.Min.X; x < src.Max.X; x++ {
			dst.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return dst
}

// paddedBox grows a detection box by pad of its size on every side and
// clamps it to bounds.
func paddedBox(bbox [4]float32, pad float32, bounds image.Rectangle) image.Rectangle {
	w, h := bbox[2]-bbox[0], bbox[3]-bbox[1]
	r := image.Rect(
		int(bbox[0]-w*pad), int(bbox[1]-h*pad),
		int(bbox[2]+w*pad), int(bbox[3]+h*pad),
	)
	return r.Intersect(bounds)
}

// squareAround returns the square of side scale*max(w,h) centred on bbox.
func squareAround(bbox [4]float32, scale float32) image.Rectangle {
	w, h := bbox[2]-bbox[0], bbox[3]-bbox[1]
	side := w
	if h > side {
		side = h
	}
	side *= scale
	cx, cy := (bbox[0]+bbox[2])/2, (bbox[1]+bbox[3])/2
	x0, y0 := int(cx-side/2), int(cy-side/2)
	s := int(side)
	if s < 1 {
		s = 1
	}
	return image.Rect(x0, y0, x0+s, y0+s)
}
