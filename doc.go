// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides handle-safe access to MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games like
Diablo, StarCraft, Warcraft III and World of Warcraft. The package drives an
archive engine with a StormLib-style API: every archive, open file and
directory search is an engine handle. By default the engine is the pure-Go
implementation in this module; building with cgo and -tags stormlib and
passing [UseStormLib] switches to the native StormLib library.

# Lifetimes

An [Archive] owns its engine handle. A [File] or [Search] opened from it
borrows the archive: closing the archive releases their handles first and
then its own, each exactly once. Using a File or Search afterwards returns
[ErrArchiveClosed]; using any value after its own Close returns [ErrClosed].

# Errors

Names that cannot be passed to the engine fail with a [*PathError] before any
engine call is made. Engine failures are returned as [*EngineError] carrying
the numeric status, which can be matched with errors.Is:

	if errors.Is(err, mpq.ErrFileNotFound) {
		...
	}

[Archive.HasFile] and [Archive.RemoveFile] report a missing file as false
with a nil error.

# Basic Usage

Creating an archive:

	archive, err := mpq.Create("patch.mpq", mpq.CreateListfile|mpq.CreateArchiveV2, 100)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	err = archive.CreateFile(&mpq.CreateFileOptions{
		Name:        "Data\\file.txt",
		Data:        data,
		Flags:       mpq.FileCompress,
		Compression: mpq.CompressionZlib,
	})

Reading an archive:

	archive, err := mpq.Open("game.mpq", mpq.OpenReadOnly)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	f, err := archive.OpenFile("Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	data, err := f.ReadAll()

# Path Conventions

MPQ archives use backslash (\) as the path separator and compare names
without regard to ASCII case. Forward slashes are accepted wherever a name
is looked up:

	archive.HasFile("Data\\SubDir\\file.txt") // Native MPQ format
	archive.HasFile("data/subdir/file.txt")   // Also works

# Limitations

The pure-Go engine reads and writes format versions 1 and 2 with zlib and
bzip2 compression, file encryption and sector checksums. Other codecs,
format versions 3 and 4, non-flat stream providers and signing are reported
as [ErrNotSupported].
*/
package mpq
