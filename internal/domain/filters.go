/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany..
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Filters is the closed set of color-correction parameters of a filter node.
// Percentages follow CSS filter semantics: 100 is identity for brightness, contrast, saturation and opacity.
type Filters struct {
	Brightness float64 `json:"brightness" yaml:"brightness"` // [0,200] %
	Contrast   float64 `json:"contrast" yaml:"contrast"`     // [0,200] %
	Saturation float64 `json:"saturation" yaml:"saturation"` // [0,200] %
	Hue        float64 `json:"hue" yaml:"hue"`               // [-180,180] degrees
	Blur       float64 `json:"blur" yaml:"blur"`             // [0,20] px
	Grayscale  float64 `json:"grayscale" yaml:"grayscale"`   // [0,100] %
	Sepia      float64 `json:"sepia" yaml:"sepia"`           // [0,100] %
	Opacity    float64 `json:"opacity" yaml:"opacity"`       // [0,100] %
}

// FilterRange is the inclusive domain of one parameter.
type FilterRange struct{ Min, Max float64 }

var filterRanges = map[string]FilterRange{
	"brightness": {0, 200},
	"contrast":   {0, 200},
	"saturation": {0, 200},
	"hue":        {-180, 180},
	"blur":       {0, 20},
	"grayscale":  {0, 100},
	"sepia":      {0, 100},
	"opacity":    {0, 100},
}

// DefaultFilters is the identity setting.
func DefaultFilters() Filters {
	return Filters{Brightness: 100, Contrast: 100, Saturation: 100, Opacity: 100}
}

// RangeOf returns the domain of a named parameter.
func RangeOf(name string) (FilterRange, bool) {
	r, ok := filterRanges[strings.ToLower(name)]
	return r, ok
}

func (f *Filters) field(name string) *float64 {
	switch strings.ToLower(name) {
	case "brightness":
		return &f.Brightness
	case "contrast":
		return &f.Contrast
	case "saturation":
		return &f.Saturation
	case "hue":
		return &f.Hue
	case "blur":
		return &f.Blur
	case "grayscale":
		return &f.Grayscale
	case "sepia":
		return &f.Sepia
	case "opacity":
		return &f.Opacity
	}
	return nil
}

// Set assigns a parameter by name, clamping it into range. NaN and unknown names are rejected.
func (f *Filters) Set(name string, v float64) error {
	p := f.field(name)
	if p == nil {
		return fmt.Errorf("unknown filter %q", name)
	}
	if math.IsNaN(v) {
		return fmt.Errorf("filter %s: not a number", name)
	}
	r := filterRanges[strings.ToLower(name)]
	*p = math.Max(r.Min, math.Min(v, r.Max))
	return nil
}

// ParseAssignments applies "name=value" pairs in order.
func (f *Filters) ParseAssignments(pairs []string) error {
	for _, kv := range pairs {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("filter assignment %q: want name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("filter assignment %q: %w", kv, err)
		}
		if err := f.Set(strings.TrimSpace(name), v); err != nil {
			return err
		}
	}
	return nil
}

// Clamped returns f with every parameter forced into its range; NaN becomes the identity value.
func (f Filters) Clamped() Filters {
	def := DefaultFilters()
	for name, r := range filterRanges {
		p := f.field(name)
		if math.IsNaN(*p) {
			*p = *def.field(name)
		}
		*p = math.Max(r.Min, math.Min(*p, r.Max))
	}
	return f
}

// IsIdentity reports whether applying f leaves an image unchanged.
func (f Filters) IsIdentity() bool { return f == DefaultFilters() }
