package loader

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Package describes a FHIR NPM package read by AddPackage.
type Package struct {
	Name        string
	Version     string
	FHIRVersion string
	// Files is the number of JSON resources handed to AddJSON.
	Files int
}

// String returns name#version.
func (p *Package) String() string {
	return p.Name + "#" + p.Version
}

// packageManifest is the package.json of a FHIR NPM package.
type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	FHIRVersion  string            `json:"fhirVersion,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// AddPackage reads a gzipped FHIR NPM package (.tgz) and adds every
// conformance resource it contains. Resources the loader does not use are
// skipped; the manifest (package/package.json) is required.
func (l *Loader) AddPackage(source string, r io.Reader) (*Package, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create gzip reader: %w", source, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	pkg := &Package{}
	var manifest []byte
	var errs error

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read tar entry: %w", source, err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}

		name := strings.TrimPrefix(header.Name, "package/")
		if !strings.HasSuffix(name, ".json") || name == ".index.json" || strings.Contains(name, "/") {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read %s: %w", source, name, err)
		}
		if name == "package.json" {
			manifest = data
			continue
		}

		pkg.Files++
		errs = multierr.Append(errs, l.AddJSON(source+"/"+name, data))
	}

	if manifest == nil {
		return nil, fmt.Errorf("%s: package.json not found", source)
	}
	var m packageManifest
	if err := json.Unmarshal(manifest, &m); err != nil {
		return nil, fmt.Errorf("%s: failed to parse package manifest: %w", source, err)
	}
	pkg.Name = m.Name
	pkg.Version = m.Version
	pkg.FHIRVersion = m.FHIRVersion
	if pkg.FHIRVersion == "" && len(m.FHIRVersions) > 0 {
		pkg.FHIRVersion = m.FHIRVersions[0]
	}

	l.log.Debug("package read",
		zap.String("package", pkg.String()),
		zap.String("fhirVersion", pkg.FHIRVersion),
		zap.Int("files", pkg.Files))
	return pkg, errs
}
