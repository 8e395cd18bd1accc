// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package codec

import (
	"math"
	"testing"
)

func TestMulawRoundTripFullDomain(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		pcm := make([]byte, 2)
		MulawToPCM16(pcm, []byte{b})

		back := make([]byte, 1)
		PCM16ToMulaw(back, pcm)

		want := b
		if b == 0x7F {
			// 0x7F is μ-law negative zero: it decodes to 0, which encodes as 0xFF.
			want = 0xFF
		}
		if back[0] != want {
			t.Errorf("round trip failed for byte 0x%02x: got 0x%02x, want 0x%02x", b, back[0], want)
		}
	}
}

func TestMulawToPCM16OutputLength(t *testing.T) {
	src := []byte{0xFF, 0x00, 0x7F, 0x80, 0x55}
	dst := make([]byte, len(src)*2)
	n := MulawToPCM16(dst, src)
	if n != len(src)*2 {
		t.Fatalf("expected %d bytes, got %d", len(src)*2, n)
	}
}

func TestPCM16ToMulawOutputLength(t *testing.T) {
	src := make([]byte, 20) // 10 samples
	dst := make([]byte, 10)
	n := PCM16ToMulaw(dst, src)
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
}

func TestMulawSilenceRoundTrips(t *testing.T) {
	// 0xFF is the conventional μ-law "silence" byte.
	src := []byte{0xFF, 0xFF, 0xFF}
	pcm := make([]byte, len(src)*2)
	MulawToPCM16(pcm, src)
	back := make([]byte, len(src))
	PCM16ToMulaw(back, pcm)
	for i, b := range back {
		if b != 0xFF {
			t.Errorf("sample %d: expected 0xFF silence round trip, got 0x%02x", i, b)
		}
	}
}

func TestResampleIdentityWhenRatesEqual(t *testing.T) {
	src := []int16{100, -200, 300, -400, 32767, -32768}
	dst := make([]int16, ResampleLen(len(src), 8000, 8000))
	n := ResampleInt16(dst, src, 8000, 8000)
	if n != len(src) {
		t.Fatalf("expected %d samples, got %d", len(src), n)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("index %d: expected %d, got %d", i, src[i], dst[i])
		}
	}
}

func TestResampleOutputLengthFormula(t *testing.T) {
	cases := []struct {
		inputLen           int
		fromRate, toRate   uint32
	}{
		{160, 8000, 24000},
		{480, 24000, 8000},
		{1, 8000, 24000},
		{0, 8000, 24000},
		{7, 8000, 16000},
	}
	for _, c := range cases {
		got := ResampleLen(c.inputLen, c.fromRate, c.toRate)
		want := int(math.Ceil(float64(c.inputLen) * float64(c.toRate) / float64(c.fromRate)))
		if got != want {
			t.Errorf("ResampleLen(%d,%d,%d) = %d, want %d", c.inputLen, c.fromRate, c.toRate, got, want)
		}
	}
}

func TestResampleUpsample8kTo24k(t *testing.T) {
	src := make([]int16, 160) // 20ms @ 8kHz
	for i := range src {
		src[i] = int16(i * 10)
	}
	dst := make([]int16, ResampleLen(len(src), 8000, 24000))
	n := ResampleInt16(dst, src, 8000, 24000)
	if n != 480 {
		t.Fatalf("expected 480 samples (3x upsample), got %d", n)
	}
	// First output sample aligns exactly with the first input sample.
	if dst[0] != src[0] {
		t.Errorf("expected dst[0]=%d, got %d", src[0], dst[0])
	}
}

func TestResampleDownsample24kTo8k(t *testing.T) {
	src := make([]int16, 480)
	for i := range src {
		src[i] = int16(i)
	}
	dst := make([]int16, ResampleLen(len(src), 24000, 8000))
	n := ResampleInt16(dst, src, 24000, 8000)
	if n != 160 {
		t.Fatalf("expected 160 samples (1/3 downsample), got %d", n)
	}
}

func TestResampleBytesMatchesInt16(t *testing.T) {
	src := make([]byte, 320) // 160 samples
	for i := 0; i < 160; i++ {
		v := int16(i * 7)
		src[i*2] = byte(uint16(v))
		src[i*2+1] = byte(uint16(v) >> 8)
	}
	dst := make([]byte, ResampleLen(160, 8000, 24000)*2)
	n := Resample(dst, src, 8000, 24000)
	if n != len(dst) {
		t.Fatalf("expected %d bytes written, got %d", len(dst), n)
	}
}
