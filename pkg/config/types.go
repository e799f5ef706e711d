package config

// Catalog lists every resource the tool can export or import
type Catalog struct {
	Resources []Resource `yaml:"resources"`
	Uploads   []Upload   `yaml:"uploads,omitempty"`
}

// Resource describes one PIM resource and how it maps to a .vac file
type Resource struct {
	Name             string            `yaml:"name"`                        // Required: unique, used in task names
	Path             string            `yaml:"path"`                        // Required: list endpoint, may hold {{placeholders}}
	File             string            `yaml:"file,omitempty"`              // Defaults to <name>.vac
	Key              string            `yaml:"key,omitempty"`               // Record field holding the code (default code)
	Import           ImportMode        `yaml:"import,omitempty"`            // How records go back (default none)
	Param            string            `yaml:"param,omitempty"`             // Placeholder this resource's key fills for its children
	Query            map[string]string `yaml:"query,omitempty"`             // Fixed query parameters of the list request
	When             *When             `yaml:"when,omitempty"`              // Only export for parent records matching this
	Tolerate         []int             `yaml:"tolerate,omitempty"`          // Statuses that mean "nothing here"
	Stream           bool              `yaml:"stream,omitempty"`            // Write page by page instead of buffering
	FanOut           bool              `yaml:"fan_out,omitempty"`           // Import through concurrent batch windows
	AcceptsParameter bool              `yaml:"accepts_parameter,omitempty"` // --parameter is appended as a raw query
	Incremental      bool              `yaml:"incremental,omitempty"`       // --since-last adds an updated filter
	Children         []Resource        `yaml:"children,omitempty"`
}

// ImportMode defines how a resource is written back
type ImportMode string

const (
	ImportNone       ImportMode = "none"       // export only
	ImportCollection ImportMode = "collection" // JSON Lines collection PATCH
	ImportArray      ImportMode = "array"      // JSON array PATCH
	ImportSingle     ImportMode = "single"     // one PATCH per record at <path>/<key>
)

// When filters parent records
type When struct {
	Field string   `yaml:"field"`
	In    []string `yaml:"in"`
}

// Matches reports whether record[Field] is one of In.
func (w *When) Matches(record map[string]interface{}) bool {
	if w == nil {
		return true
	}
	value, ok := record[w.Field].(string)
	if !ok {
		return false
	}
	for _, candidate := range w.In {
		if candidate == value {
			return true
		}
	}
	return false
}

// Tolerates reports whether status is in Tolerate.
func (r *Resource) Tolerates(status int) bool {
	for _, s := range r.Tolerate {
		if s == status {
			return true
		}
	}
	return false
}

// Importable reports whether records can be written back.
func (r *Resource) Importable() bool {
	return r.Import != "" && r.Import != ImportNone
}

// Upload describes a multipart media endpoint
type Upload struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	CodeHeader string `yaml:"code_header,omitempty"` // Response header carrying the media file code
}

// Walk calls fn for every resource, parents before children, in catalog order.
func (c *Catalog) Walk(fn func(r *Resource, parents []*Resource)) {
	var walk func(rs []Resource, parents []*Resource)
	walk = func(rs []Resource, parents []*Resource) {
		for i := range rs {
			r := &rs[i]
			fn(r, parents)
			walk(r.Children, append(append([]*Resource(nil), parents...), r))
		}
	}
	walk(c.Resources, nil)
}

// Find returns the resource called name and its ancestors.
func (c *Catalog) Find(name string) (*Resource, []*Resource, bool) {
	var found *Resource
	var ancestors []*Resource
	c.Walk(func(r *Resource, parents []*Resource) {
		if found == nil && r.Name == name {
			found, ancestors = r, parents
		}
	})
	return found, ancestors, found != nil
}

// FindUpload returns the upload called name.
func (c *Catalog) FindUpload(name string) (*Upload, bool) {
	for i := range c.Uploads {
		if c.Uploads[i].Name == name {
			return &c.Uploads[i], true
		}
	}
	return nil, false
}
