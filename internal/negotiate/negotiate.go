// Copyright 2025 The Frontend SSR Web Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package negotiate implements content negotiation over the Accept,
// Accept-Encoding, and Content-Type request headers, per spec.md §4.4.
//
// The parsing core is grounded on the teacher router's Accept-header
// scanner (manual byte-index scanning rather than regexp, the same
// specificity rules for media-range matching), generalized here into a
// standalone package so the same logic serves both the streaming response
// core (encoding selection) and route handlers (media-range selection)
// without going through a per-request *Context.
package negotiate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// weighted is one comma-separated item from a header, with its quality.
type weighted struct {
	value   string
	quality float64
	params  map[string]string
}

// ErrNoAcceptableEncoding is returned by Encoding when the client's
// Accept-Encoding excludes every supported coding.
var ErrNoAcceptableEncoding = fmt.Errorf("no acceptable content-encoding")

// ErrNoAcceptableMedia is returned by Media when none of the caller's
// offers satisfy the client's Accept header.
var ErrNoAcceptableMedia = fmt.Errorf("no acceptable media type")

// ErrMalformedContentType is returned by ContentType when the header
// cannot be parsed as a media type.
var ErrMalformedContentType = fmt.Errorf("malformed content-type header")

// VaryHeaders is the uniform Vary value every negotiated response carries
// (spec.md §6): User-Agent participates because open-graph image
// generators filter by it.
const VaryHeaders = "Accept, Accept-Encoding, User-Agent"

// parseWeighted parses a header value like "gzip;q=0.8, br, identity;q=0"
// into weighted items, preserving header order for tie-breaking.
func parseWeighted(header string) []weighted {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]weighted, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := strings.Split(part, ";")
		item := weighted{value: strings.ToLower(strings.TrimSpace(segs[0])), quality: 1.0}
		for _, seg := range segs[1:] {
			seg = strings.TrimSpace(seg)
			k, v, ok := strings.Cut(seg, "=")
			if !ok {
				continue
			}
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.Trim(strings.TrimSpace(v), `"`)
			if k == "q" {
				if q, err := strconv.ParseFloat(v, 64); err == nil && q >= 0 && q <= 1 {
					item.quality = q
				}
				continue
			}
			if item.params == nil {
				item.params = make(map[string]string)
			}
			item.params[k] = v
		}
		if item.quality > 0 {
			out = append(out, item)
		}
	}
	return out
}

// Encoding selects the best supported content-encoding for the
// Accept-Encoding header among supported, in the caller's preference
// order. An empty header selects identity; otherwise a supported coding,
// identity included, is a candidate only when the header lists it with a
// positive q or a "*" wildcard covers it.
//
// Returns ErrNoAcceptableEncoding if the client excludes every supported
// coding; the caller should respond 415 with an Accept-Encoding header
// listing supported.
func Encoding(acceptEncoding string, supported []string) (string, error) {
	items := parseWeighted(acceptEncoding)

	if acceptEncoding == "" {
		return "identity", nil
	}

	excluded := make(map[string]bool)
	weights := make(map[string]float64)
	var wildcardQ float64 = -1
	for _, it := range items {
		weights[it.value] = it.quality
	}
	// A second pass to catch explicit q=0 exclusions, since parseWeighted
	// already drops q<=0 entries — re-parse allowing zero so exclusions
	// are visible.
	for _, part := range strings.Split(acceptEncoding, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := strings.Split(part, ";")
		name := strings.ToLower(strings.TrimSpace(segs[0]))
		q := 1.0
		for _, seg := range segs[1:] {
			seg = strings.TrimSpace(seg)
			k, v, ok := strings.Cut(seg, "=")
			if ok && strings.ToLower(strings.TrimSpace(k)) == "q" {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}
		if name == "*" {
			wildcardQ = q
			continue
		}
		if q <= 0 {
			excluded[name] = true
		}
	}

	best := ""
	bestQ := -1.0
	for _, name := range supported {
		if excluded[name] {
			continue
		}
		q, ok := weights[name]
		if !ok {
			if wildcardQ > 0 {
				q = wildcardQ
			} else {
				continue
			}
		}
		if q > bestQ {
			best = name
			bestQ = q
		}
	}

	if best == "" {
		return "", ErrNoAcceptableEncoding
	}
	return best, nil
}

// mediaType splits "type/subtype" (ignoring parameters) into its parts.
func mediaType(s string) (typ, sub string) {
	s, _, _ = strings.Cut(s, ";")
	s = strings.TrimSpace(s)
	typ, sub, ok := strings.Cut(s, "/")
	if !ok {
		return strings.ToLower(s), "*"
	}
	return strings.ToLower(strings.TrimSpace(typ)), strings.ToLower(strings.TrimSpace(sub))
}

func specificity(offerType, offerSub, specType, specSub string) int {
	switch {
	case specType == "*" && specSub == "*":
		return 1
	case specType == offerType && specSub == "*":
		return 2
	case specType == offerType && specSub == offerSub:
		return 3
	default:
		return 0
	}
}

// Media selects the best offer from the ordered offers slice against the
// client's Accept header, by quality then by the caller's order on ties.
//
// Returns ErrNoAcceptableMedia if nothing matches; the caller should
// respond 406 with an Accept header listing offers.
func Media(accept string, offers []string) (string, error) {
	if len(offers) == 0 {
		return "", ErrNoAcceptableMedia
	}
	if accept == "" {
		return offers[0], nil
	}
	specs := parseWeighted(accept)
	if len(specs) == 0 {
		return offers[0], nil
	}

	bestIdx := -1
	bestQ := -1.0
	for i, offer := range offers {
		offerType, offerSub := mediaType(offer)
		for _, spec := range specs {
			specType, specSub := mediaType(spec.value)
			sp := specificity(offerType, offerSub, specType, specSub)
			if sp == 0 {
				continue
			}
			if spec.quality > bestQ {
				bestIdx = i
				bestQ = spec.quality
			}
		}
	}
	if bestIdx == -1 {
		return "", ErrNoAcceptableMedia
	}
	return offers[bestIdx], nil
}

// ContentType is a parsed inbound media type with lowercased type,
// subtype, and parameter keys.
type ContentType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// ParseContentType parses the Content-Type header. Malformed input
// returns ErrMalformedContentType; the caller should respond 400.
func ParseContentType(header string) (ContentType, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ContentType{}, ErrMalformedContentType
	}
	segs := strings.Split(header, ";")
	typ, sub, ok := strings.Cut(strings.TrimSpace(segs[0]), "/")
	if !ok || typ == "" || sub == "" {
		return ContentType{}, ErrMalformedContentType
	}
	ct := ContentType{
		Type:    strings.ToLower(strings.TrimSpace(typ)),
		Subtype: strings.ToLower(strings.TrimSpace(sub)),
	}
	for _, seg := range segs[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return ContentType{}, ErrMalformedContentType
		}
		if ct.Params == nil {
			ct.Params = make(map[string]string)
		}
		ct.Params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return ct, nil
}

// WriteUnacceptableEncoding writes the 415 response spec.md §6 requires:
// an Accept-Encoding header enumerating supported codings.
func WriteUnacceptableEncoding(w http.ResponseWriter, supported []string) {
	w.Header().Set("Accept-Encoding", strings.Join(supported, ", "))
	w.Header().Set("Vary", VaryHeaders)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnsupportedMediaType)
	_, _ = w.Write([]byte(`{"error":"no acceptable content-encoding"}` + "\n"))
}

// WriteNotAcceptable writes the 406 response spec.md §6 requires: an
// Accept header enumerating offers.
func WriteNotAcceptable(w http.ResponseWriter, offers []string) {
	w.Header().Set("Accept", strings.Join(offers, ", "))
	w.Header().Set("Vary", VaryHeaders)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotAcceptable)
	_, _ = w.Write([]byte(`{"error":"no acceptable media type"}` + "\n"))
}
