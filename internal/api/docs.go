package api

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"chatgate/internal/models"

	"gopkg.in/yaml.v3"
)

// RouteDoc describes one REST route.
type RouteDoc struct {
	Method      string `json:"method" yaml:"method"`
	Path        string `json:"path" yaml:"path"`
	Summary     string `json:"summary" yaml:"summary"`
	Category    string `json:"category" yaml:"category"`
	RateLimit   string `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RequestBody string `json:"request_body,omitempty" yaml:"request_body,omitempty"`
	Response    string `json:"response,omitempty" yaml:"response,omitempty"`
}

// FieldDoc describes one JSON field of a schema.
type FieldDoc struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// SchemaDoc describes a request, response or payload type.
type SchemaDoc struct {
	Name   string     `json:"name" yaml:"name"`
	Fields []FieldDoc `json:"fields" yaml:"fields"`
}

// PayloadDoc describes a gateway op.
type PayloadDoc struct {
	Op        string `json:"op" yaml:"op"`
	Direction string `json:"direction" yaml:"direction"`
	Data      string `json:"data,omitempty" yaml:"data,omitempty"`
	Summary   string `json:"summary" yaml:"summary"`
}

// Docs is the rendered registry.
type Docs struct {
	Routes   []RouteDoc   `json:"routes" yaml:"routes"`
	Payloads []PayloadDoc `json:"payloads" yaml:"payloads"`
	Schemas  []SchemaDoc  `json:"schemas" yaml:"schemas"`
}

// DocRegistry collects route, payload and schema descriptions as routes are
// registered, so the served docs always match the router.
type DocRegistry struct {
	mu       sync.RWMutex
	routes   []RouteDoc
	payloads []PayloadDoc
	schemas  map[string]SchemaDoc
}

func NewDocRegistry() *DocRegistry {
	r := &DocRegistry{schemas: make(map[string]SchemaDoc)}
	r.registerPayloads()
	return r
}

// AddRoute records a route. req and resp are example values whose types are
// described as schemas; either may be nil.
func (d *DocRegistry) AddRoute(route RouteDoc, req, resp interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req != nil {
		route.RequestBody = d.addSchemaLocked(req)
	}
	if resp != nil {
		route.Response = d.addSchemaLocked(resp)
	}
	d.routes = append(d.routes, route)
}

// Snapshot returns the registry contents sorted by path, op and name.
func (d *DocRegistry) Snapshot() Docs {
	d.mu.RLock()
	defer d.mu.RUnlock()

	docs := Docs{
		Routes:   append([]RouteDoc(nil), d.routes...),
		Payloads: append([]PayloadDoc(nil), d.payloads...),
		Schemas:  make([]SchemaDoc, 0, len(d.schemas)),
	}
	for _, s := range d.schemas {
		docs.Schemas = append(docs.Schemas, s)
	}

	sort.Slice(docs.Routes, func(i, j int) bool {
		if docs.Routes[i].Path == docs.Routes[j].Path {
			return docs.Routes[i].Method < docs.Routes[j].Method
		}
		return docs.Routes[i].Path < docs.Routes[j].Path
	})
	sort.Slice(docs.Schemas, func(i, j int) bool { return docs.Schemas[i].Name < docs.Schemas[j].Name })
	return docs
}

// YAML renders the snapshot as YAML.
func (d *DocRegistry) YAML() ([]byte, error) {
	return yaml.Marshal(d.Snapshot())
}

func (d *DocRegistry) registerPayloads() {
	d.mu.Lock()
	defer d.mu.Unlock()

	add := func(op, direction, summary string, data interface{}) {
		p := PayloadDoc{Op: op, Direction: direction, Summary: summary}
		if data != nil {
			p.Data = d.addSchemaLocked(data)
		}
		d.payloads = append(d.payloads, p)
	}

	add(models.OpHello, "server", "Sent once after the upgrade; carries the heartbeat interval", models.HelloData{})
	add(models.OpPing, "client", "Heartbeat; must be sent at least every heartbeat interval", nil)
	add(models.OpPong, "server", "Reply to every accepted PING", nil)
	add(models.OpMessageCreate, "server", "A message was created", models.Message{})
	add(models.OpRateLimit, "server", "The last client frame was dropped; wait before sending again", models.RateLimitData{})
}

// addSchemaLocked describes the struct type of v and returns its name.
func (d *DocRegistry) addSchemaLocked(v interface{}) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return typeName(t)
	}
	if _, ok := d.schemas[t.Name()]; ok {
		return t.Name()
	}

	schema := SchemaDoc{Name: t.Name()}
	// Reserve the name first so self-referencing types terminate.
	d.schemas[t.Name()] = schema

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}

		if nested := structElem(f.Type); nested != nil {
			d.addSchemaLocked(reflect.New(nested).Elem().Interface())
		}

		schema.Fields = append(schema.Fields, FieldDoc{
			Name:     name,
			Type:     typeName(f.Type),
			Optional: strings.Contains(opts, "omitempty"),
		})
	}

	d.schemas[t.Name()] = schema
	return t.Name()
}

// structElem unwraps pointers, slices and maps down to a documentable struct.
func structElem(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
		case reflect.Struct:
			if t.PkgPath() == "time" {
				return nil
			}
			return t
		default:
			return nil
		}
	}
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return typeName(t.Elem())
	case reflect.Slice, reflect.Array:
		return "[]" + typeName(t.Elem())
	case reflect.Map:
		return fmt.Sprintf("map[%s]%s", typeName(t.Key()), typeName(t.Elem()))
	case reflect.Interface:
		return "any"
	case reflect.Struct:
		if t.PkgPath() == "time" && t.Name() == "Time" {
			return "timestamp"
		}
		return t.Name()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	default:
		return "string"
	}
}
