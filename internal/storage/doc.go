// Package storage persists the whole account list to a single file. The file
// is rewritten wholesale on every save through a temp file and rename.
package storage
