// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package codec

import "math"

// ResampleLen returns the output sample count for a resample from fromRate
// to toRate of an input of inputLen samples: ceil(inputLen / (fromRate/toRate)).
func ResampleLen(inputLen int, fromRate, toRate uint32) int {
	if inputLen == 0 {
		return 0
	}
	return int(math.Ceil(float64(inputLen) * float64(toRate) / float64(fromRate)))
}

// ResampleInt16 linearly interpolates src (PCM16 samples at fromRate) into
// dst (a pre-sized buffer of length ResampleLen(len(src), fromRate, toRate),
// at toRate). It returns the number of samples written.
//
// For output index i, the source position is i*fromRate/toRate; the value
// is src[floor(pos)]*(1-frac) + src[ceil(pos)]*frac, rounded to nearest,
// with ceil(pos) clamped to the last valid index.
func ResampleInt16(dst []int16, src []int16, fromRate, toRate uint32) int {
	outLen := ResampleLen(len(src), fromRate, toRate)
	if len(dst) < outLen {
		panic("codec: ResampleInt16 dst too small")
	}
	if len(src) == 0 {
		return 0
	}

	lastIdx := len(src) - 1
	ratio := float64(fromRate) / float64(toRate)

	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		lo := int(math.Floor(pos))
		hi := lo + 1
		if hi > lastIdx {
			hi = lastIdx
		}
		if lo > lastIdx {
			lo = lastIdx
		}
		frac := pos - float64(lo)

		value := float64(src[lo])*(1-frac) + float64(src[hi])*frac
		dst[i] = int16(clampInt(int(math.Round(value)), -32768, 32767))
	}
	return outLen
}

// Resample is the little-endian PCM16 byte-buffer counterpart of
// ResampleInt16, so callers never need to round-trip through an []int16
// slice themselves. Unlike ResampleInt16 it allocates two temporary []int16
// slices per call; the session's audio pump uses ResampleInt16 instead.
func Resample(dst []byte, src []byte, fromRate, toRate uint32) int {
	srcSamples := len(src) / 2
	outSamples := ResampleLen(srcSamples, fromRate, toRate)
	if len(dst) < outSamples*2 {
		panic("codec: Resample dst too small")
	}

	srcInt16 := make([]int16, srcSamples)
	for i := 0; i < srcSamples; i++ {
		srcInt16[i] = int16(uint16(src[i*2]) | uint16(src[i*2+1])<<8)
	}

	dstInt16 := make([]int16, outSamples)
	n := ResampleInt16(dstInt16, srcInt16, fromRate, toRate)

	for i := 0; i < n; i++ {
		dst[i*2] = byte(uint16(dstInt16[i]))
		dst[i*2+1] = byte(uint16(dstInt16[i]) >> 8)
	}
	return n * 2
}
