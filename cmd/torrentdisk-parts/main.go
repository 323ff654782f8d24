// Inspects torrent part-files.
//
// $ torrentdisk-parts info ~/Downloads/.ab12….parts
// $ torrentdisk-parts dump --piece 3 ~/Downloads/.ab12….parts > piece3
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"

	"github.com/anacrolix/torrentdisk/partfile"
)

type InfoCmd struct {
	Path string `arg:"positional,required"`
	// Print every piece's slot.
	Slots bool `help:"list the slot of each stored piece"`
}

type DumpCmd struct {
	Piece int    `arg:"required" help:"piece to write to stdout"`
	Path  string `arg:"positional,required"`
}

var flags struct {
	Debug bool
	*InfoCmd `arg:"subcommand:info"`
	*DumpCmd `arg:"subcommand:dump"`
}

func main() {
	if err := mainErr(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func mainErr() error {
	p := arg.MustParse(&flags)
	level := slog.LevelInfo
	if flags.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	switch {
	case flags.InfoCmd != nil:
		return info(os.Stdout, flags.InfoCmd)
	case flags.DumpCmd != nil:
		return dump(os.Stdout, flags.DumpCmd)
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}

func info(w io.Writer, cmd *InfoCmd) error {
	h, err := partfile.ReadHeader(cmd.Path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(cmd.Path)
	if err != nil {
		return err
	}
	var stored, maxSlot int32 = 0, -1
	for _, slot := range h.Slots {
		if slot != partfile.NoSlot {
			stored++
			maxSlot = max(maxSlot, slot)
		}
	}
	fmt.Fprintf(w, "pieces: %v\n", h.NumPieces)
	fmt.Fprintf(w, "piece size: %v\n", humanize.IBytes(uint64(h.PieceSize)))
	fmt.Fprintf(w, "header size: %v\n", humanize.IBytes(uint64(h.Size())))
	fmt.Fprintf(w, "stored pieces: %v\n", stored)
	fmt.Fprintf(w, "slots in file: %v\n", maxSlot+1)
	fmt.Fprintf(w, "file size: %v\n", humanize.IBytes(uint64(fi.Size())))
	if cmd.Slots {
		for piece, slot := range h.Slots {
			if slot != partfile.NoSlot {
				fmt.Fprintf(w, "%v\t%v\n", piece, slot)
			}
		}
	}
	return nil
}

func dump(w io.Writer, cmd *DumpCmd) error {
	h, err := partfile.ReadHeader(cmd.Path)
	if err != nil {
		return err
	}
	if cmd.Piece < 0 || cmd.Piece >= int(h.NumPieces) {
		return fmt.Errorf("piece %v out of range [0, %v)", cmd.Piece, h.NumPieces)
	}
	pf, err := partfile.Open(partfile.Opts{
		Dir:       filepath.Dir(cmd.Path),
		Name:      filepath.Base(cmd.Path),
		NumPieces: int(h.NumPieces),
		PieceSize: int64(h.PieceSize),
	})
	if err != nil {
		return err
	}
	defer pf.Close()
	b := make([]byte, h.PieceSize)
	_, err = pf.Read(b, cmd.Piece, 0)
	if err != nil {
		return fmt.Errorf("reading piece %v: %w", cmd.Piece, err)
	}
	_, err = w.Write(b)
	return err
}
