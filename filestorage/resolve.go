package filestorage

import (
	"iter"
	"slices"

	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/anacrolix/torrentdisk/segments"
)

// Translates a region of a piece into spans of files, in torrent order. Spans never cross a file
// boundary, and are never empty. The region is truncated at the end of the torrent. Pad files are
// included, it's up to the caller to skip them.
func (fs *FileStorage) Spans(piece, offset int, length int64) iter.Seq[FileSpan] {
	panicif.True(piece < 0 || piece >= fs.numPieces)
	panicif.True(offset < 0 || length < 0)
	return func(yield func(FileSpan) bool) {
		e := segments.Extent{
			Start:  int64(piece)*fs.pieceLength + int64(offset),
			Length: length,
		}
		for i, located := range fs.index.LocateIter(e) {
			if !yield(FileSpan{
				File:   i,
				Offset: located.Start,
				Length: located.Length,
			}) {
				return
			}
		}
	}
}

func (fs *FileStorage) Resolve(piece, offset int, length int64) []FileSpan {
	return slices.Collect(fs.Spans(piece, offset, length))
}
