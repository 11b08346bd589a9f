// Package cdnresolve implements the CDN resolver, the heart of dependency
// resolution for bare imports: subpath-import rewriting, JSR resolution,
// dependency-map-driven version lookup, resolvePackageEntry integration,
// and peer-dependency stabilization.
//
// Registry response types mirror the real shape registry.npmjs.org (and
// unpkg-compatible mirrors) return; this core only ever reads these
// shapes rather than serving them.
package cdnresolve

// NPMAbbreviatedPackage is the "dist-tags"+"versions" shape returned by
// an npm-compatible registry's abbreviated metadata endpoint.
type NPMAbbreviatedPackage struct {
	Name     string                           `json:"name"`
	DistTags map[string]string                `json:"dist-tags"`
	Versions map[string]NPMAbbreviatedVersion `json:"versions"`
}

// NPMAbbreviatedVersion is a single version entry within the abbreviated
// metadata document.
type NPMAbbreviatedVersion struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Dist                 NPMDist           `json:"dist"`
}

// NPMDist is the tarball-location sub-object of a version entry.
type NPMDist struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum"`
}

// JSRMeta is the "meta.json" document for a JSR package: which versions
// exist.
type JSRMeta struct {
	Versions map[string]JSRMetaVersion `json:"versions"`
}

// JSRMetaVersion marks a version as (not) yanked.
type JSRMetaVersion struct {
	Yanked bool `json:"yanked"`
}

// JSRVersionMeta is the "<version>_meta.json" document: the exports map
// for one resolved version.
type JSRVersionMeta struct {
	Exports map[string]string `json:"exports"`
}
