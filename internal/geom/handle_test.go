/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package geom

import (
	"errors"
	"testing"
)

func TestHitTest(t *testing.T) {
	r := R(100, 100, 200, 100)
	cases := []struct {
		p    Point
		want Handle
		ok   bool
	}{
		{Point{100, 100}, HandleNW, true},
		{Point{305, 195}, HandleSE, true},
		{Point{200, 98}, HandleN, true},
		{Point{200, 200}, HandleS, true},
		{Point{96, 150}, HandleW, true},
		{Point{300, 150}, HandleE, true},
		{Point{200, 150}, HandleNone, true},
		{Point{10, 10}, HandleNone, false},
	}
	for _, c := range cases {
		h, ok := HitTest(r, c.p, 8)
		if h != c.want || ok != c.ok {
			t.Fatalf("HitTest(%v) = %s,%v want %s,%v", c.p, h, ok, c.want, c.ok)
		}
	}
}

func TestParseHandleRoundTrip(t *testing.T) {
	for _, h := range append([]Handle{HandleNone}, Handles...) {
		got, err := ParseHandle(h.String())
		if err != nil || got != h {
			t.Fatalf("ParseHandle(%q) = %v,%v", h.String(), got, err)
		}
	}
	if _, err := ParseHandle("up"); err == nil {
		t.Fatalf("expected error for unknown handle")
	}
}

func TestAnchorOfCorner(t *testing.T) {
	r := R(10, 20, 30, 40)
	if a := HandleNW.Anchor(r); a != (Point{40, 60}) {
		t.Fatalf("nw anchor = %v", a)
	}
	if a := HandleSE.Anchor(r); a != (Point{10, 20}) {
		t.Fatalf("se anchor = %v", a)
	}
}

func TestParseRatio(t *testing.T) {
	cases := map[string]AspectRatio{
		"free": Free,
		"":     Free,
		"16:9": {16, 9},
		"4/3":  {4, 3},
		"1x1":  {1, 1},
	}
	for in, want := range cases {
		got, err := ParseRatio(in)
		if err != nil || got != want {
			t.Fatalf("ParseRatio(%q) = %v,%v want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"0:1", "-1:2", "a:b", "16", "1:inf"} {
		if _, err := ParseRatio(bad); !errors.Is(err, ErrInvalidRatio) {
			t.Fatalf("ParseRatio(%q) err = %v, want ErrInvalidRatio", bad, err)
		}
	}
	if s := (AspectRatio{16, 9}).String(); s != "16:9" {
		t.Fatalf("String() = %q", s)
	}
}

func TestAffineInvert(t *testing.T) {
	m := Translate(30, -12).Mul(Scale(2, 4))
	inv, ok := m.Invert()
	if !ok {
		t.Fatalf("expected invertible")
	}
	p := Point{7, 9}
	back := inv.Apply(m.Apply(p))
	if !approx(back.X, p.X) || !approx(back.Y, p.Y) {
		t.Fatalf("round trip = %v", back)
	}
	if _, ok := Scale(0, 1).Invert(); ok {
		t.Fatalf("singular matrix reported invertible")
	}
}
