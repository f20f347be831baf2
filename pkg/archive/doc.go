// Package archive packs and unpacks dataset tar.gz files with traversal and
// decompression-bomb defenses: entry paths must normalize strictly under the
// destination, each entry is capped at 1 GiB decompressed, and parents are
// created 0750.
package archive
