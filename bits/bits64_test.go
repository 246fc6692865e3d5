// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bits

import "testing"

func TestSetNGetN64(t *testing.T) {
	var v uint64

	SetN64(&v, 0, (1<<52)-1, 0x1234)
	SetN64(&v, 52, (1<<11)-1, 0x3FF)
	SetTo64(&v, 63, true)

	if got := Get64(&v, 0, (1<<52)-1); got != 0x1234 {
		t.Errorf("low field = %#x, want %#x", got, 0x1234)
	}
	if got := Get64(&v, 52, (1<<11)-1); got != 0x3FF {
		t.Errorf("mid field = %#x, want %#x", got, 0x3FF)
	}
	if got := Get64(&v, 63, 1); got != 1 {
		t.Errorf("top bit = %d, want 1", got)
	}

	SetTo64(&v, 63, false)
	if got := Get64(&v, 63, 1); got != 0 {
		t.Errorf("top bit after clear = %d, want 0", got)
	}
}
