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

package sitemap

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

type urlEntry struct {
	Loc     string `xml:"loc"`
	Lastmod string `xml:"lastmod"`
}

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	XMLNS   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

const sitemapXMLNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// WriteXML writes the standard sitemap.xml urlset document.
func WriteXML(w io.Writer, baseURL string, results []Result) error {
	set := urlSet{XMLNS: sitemapXMLNS}
	for _, r := range results {
		set.URLs = append(set.URLs, urlEntry{
			Loc:     baseURL + r.Path,
			Lastmod: r.Lastmod.UTC().Format(time.RFC3339),
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	return enc.Encode(set)
}

// WritePlain writes one absolute URL per line, the de facto plain-text
// sitemap format search engines also accept.
func WritePlain(w io.Writer, baseURL string, results []Result) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "%s%s\n", baseURL, r.Path); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes path,lastmod rows for operational inspection (not a
// search-engine-consumed format, but useful for debugging the encoder's
// insert/update/skip bookkeeping).
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "lastmod"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write([]string{r.Path, r.Lastmod.UTC().Format(time.RFC3339)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
