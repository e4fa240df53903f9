// Copyright 2016 Ericsson AB All Rights Reserved.

package runconf

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/hcl"
	yaml "gopkg.in/yaml.v2"
)

// Decoder turns the raw bytes of a configuration file into a generic
// document. Keys must be strings; values are whatever the format yields
// for scalars and lists.
type Decoder func([]byte) (map[string]interface{}, error)

const defaultFormat = ".json"

var formats = make(map[string]Decoder)
var guard = &sync.Mutex{}

func init() {
	for ext, d := range map[string]Decoder{
		".json": decodeJSON,
		".yaml": decodeYAML,
		".yml":  decodeYAML,
		".hcl":  decodeHCL,
	} {
		if err := RegisterFormat(ext, d); err != nil {
			panic(err)
		}
	}
}

// RegisterFormat registers a Decoder for files ending in ext. It is an
// error to register the same extension twice.
func RegisterFormat(ext string, d Decoder) error {
	guard.Lock()
	defer guard.Unlock()
	ext = strings.ToLower(ext)
	if _, ok := formats[ext]; ok {
		return fmt.Errorf("configuration format already registered for '%s'", ext)
	}
	formats[ext] = d
	return nil
}

// Formats returns the registered extensions, sorted.
func Formats() (exts []string) {
	guard.Lock()
	defer guard.Unlock()
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// decoderFor returns the decoder for ext, falling back to JSON.
func decoderFor(ext string) Decoder {
	guard.Lock()
	defer guard.Unlock()
	if d, ok := formats[strings.ToLower(ext)]; ok {
		return d
	}
	return formats[defaultFormat]
}

func decodeJSON(b []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeYAML(b []byte) (map[string]interface{}, error) {
	var raw map[interface{}]interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	doc := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("non-string key %v", k)
		}
		doc[key] = v
	}
	return doc, nil
}

func decodeHCL(b []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := hcl.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
