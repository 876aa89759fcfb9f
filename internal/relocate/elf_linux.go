//go:build linux

package relocate

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// elfPageSize is the page alignment used for every Linux target this
// patcher runs on; it matches the p_align the original toolchains already
// used for PT_LOAD segments.
const elfPageSize = 4096

// relocateELF implements §4.5.2: RPATH/RUNPATH rewriting and interpreter
// replacement for a Linux ELF binary, deduplicated by (device, inode) so
// hardlinked copies of the same file are only patched once.
func relocateELF(path, newPrefix string, inodes *inodeSet) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		key := inodeKey{dev: uint64(stat.Dev), ino: stat.Ino}
		if !inodes.markProcessed(key) {
			return false, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	f, err := elf.NewFile(newSliceReaderAt(raw))
	if err != nil {
		// not a parseable ELF (e.g. truncated or an object file); skip silently
		return false, nil
	}
	defer f.Close()

	dynProg := findProg(f, elf.PT_DYNAMIC)
	if dynProg == nil {
		return false, nil // no dynamic segment: static binary, nothing to patch
	}

	patch, err := planELFPatch(f, raw, dynProg, newPrefix)
	if err != nil {
		return false, err
	}
	if patch == nil {
		return false, nil
	}

	return true, applyELFPatch(path, raw, info, patch)
}

type elfPatch struct {
	is64      bool
	byteOrder binary.ByteOrder

	rpathFileOffset int
	rpathOldLen     int
	rpathNew        string

	// dynStrtabFileOff/dynStrtabSize and the dtXxxValFileOff fields are
	// only populated when an RPATH/RUNPATH replacement is planned; they
	// let growELF relocate the whole string table when rpathNew doesn't
	// fit in rpathOldLen.
	dynStrtabFileOff   int
	dynStrtabSize      int
	dtStrtabValFileOff int
	dtStrszValFileOff  int
	rpathDynValFileOff int

	interpFileOffset int
	interpOldLen     int
	interpNew        string
}

func findProg(f *elf.File, typ elf.ProgType) *elf.Prog {
	for _, p := range f.Progs {
		if p.Type == typ {
			return p
		}
	}
	return nil
}

// planELFPatch reads the dynamic table and PT_INTERP segment (if any) and
// computes the replacement RPATH/RUNPATH and interpreter strings, without
// touching the file yet.
func planELFPatch(f *elf.File, raw []byte, dynProg *elf.Prog, newPrefix string) (*elfPatch, error) {
	is64 := f.Class == elf.ELFCLASS64
	entrySize := 16
	if !is64 {
		entrySize = 8
	}

	dynData := make([]byte, dynProg.Filesz)
	if _, err := dynProg.ReadAt(dynData, 0); err != nil {
		return nil, fmt.Errorf("reading dynamic segment: %w", err)
	}

	order := f.ByteOrder

	var strtabVaddr, strtabSize uint64
	var rpathOff, runpathOff uint64
	var strtabEntryOff, strszEntryOff, rpathEntryOff, runpathEntryOff int
	haveRpath, haveRunpath := false, false

	for off := 0; off+entrySize <= len(dynData); off += entrySize {
		var tag int64
		var val uint64
		if is64 {
			tag = int64(order.Uint64(dynData[off : off+8]))
			val = order.Uint64(dynData[off+8 : off+16])
		} else {
			tag = int64(order.Uint32(dynData[off : off+4]))
			val = uint64(order.Uint32(dynData[off+4 : off+8]))
		}
		switch elf.DynTag(tag) {
		case elf.DT_STRTAB:
			strtabVaddr = val
			strtabEntryOff = off
		case elf.DT_STRSZ:
			strtabSize = val
			strszEntryOff = off
		case elf.DT_RPATH:
			rpathOff, haveRpath = val, true
			rpathEntryOff = off
		case elf.DT_RUNPATH:
			runpathOff, haveRunpath = val, true
			runpathEntryOff = off
		}
	}

	var patch *elfPatch

	if strtabVaddr != 0 && (haveRpath || haveRunpath) {
		strtabFileOff, err := vaddrToFileOffset(f, strtabVaddr)
		if err != nil {
			return nil, err
		}

		useOff := rpathOff
		useEntryOff := rpathEntryOff
		if haveRunpath {
			useOff = runpathOff
			useEntryOff = runpathEntryOff
		}

		entryFileOffset := strtabFileOff + int(useOff)
		old := readCStringFromRaw(raw, entryFileOffset)
		newRpath := computeNewRpath(old, newPrefix)

		if newRpath != old {
			patch = &elfPatch{
				is64:      is64,
				byteOrder: order,

				rpathFileOffset: entryFileOffset,
				rpathOldLen:     len(old),
				rpathNew:        newRpath,

				dynStrtabFileOff:   strtabFileOff,
				dynStrtabSize:      int(strtabSize),
				dtStrtabValFileOff: int(dynProg.Off) + strtabEntryOff + entrySize/2,
				dtStrszValFileOff:  int(dynProg.Off) + strszEntryOff + entrySize/2,
				rpathDynValFileOff: int(dynProg.Off) + useEntryOff + entrySize/2,
			}
		}
	}

	interp, err := planInterpOnly(f, newPrefix)
	if err != nil {
		return patch, err
	}
	if interp != nil {
		if patch == nil {
			patch = &elfPatch{is64: is64, byteOrder: order}
		}
		patch.interpFileOffset = interp.interpFileOffset
		patch.interpOldLen = interp.interpOldLen
		patch.interpNew = interp.interpNew
	}

	return patch, nil
}

func planInterpOnly(f *elf.File, newPrefix string) (*elfPatch, error) {
	interpProg := findProg(f, elf.PT_INTERP)
	if interpProg == nil {
		return nil, nil
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, nil
	}

	data := make([]byte, interpProg.Filesz)
	if _, err := interpProg.ReadAt(data, 0); err != nil {
		return nil, fmt.Errorf("reading interp segment: %w", err)
	}
	old := string(trimNUL(data))

	newInterp := computeNewInterpreter(old, newPrefix)
	if newInterp == old {
		return nil, nil
	}

	return &elfPatch{
		interpFileOffset: int(interpProg.Off),
		interpOldLen:     len(old),
		interpNew:        newInterp,
	}, nil
}

// computeNewRpath implements the exact §4.5.2 step 4 algorithm: substitute
// the placeholder, keep only entries that now start with the new prefix
// or "$ORIGIN", then ensure <new_prefix>/lib is present.
func computeNewRpath(old, newPrefix string) string {
	substituted := strings.ReplaceAll(old, "@@HOMEBREW_PREFIX@@", newPrefix)

	var kept []string
	for _, entry := range strings.Split(substituted, ":") {
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, newPrefix) || strings.HasPrefix(entry, "$ORIGIN") {
			kept = append(kept, entry)
		}
	}

	libPath := filepath.Join(newPrefix, "lib")
	found := false
	for _, entry := range kept {
		if entry == libPath {
			found = true
			break
		}
	}
	if !found {
		kept = append(kept, libPath)
	}

	return strings.Join(kept, ":")
}

// computeNewInterpreter implements §4.5.2 step 5.
func computeNewInterpreter(old, newPrefix string) string {
	if strings.Contains(old, "@@HOMEBREW_PREFIX@@") {
		expanded := strings.ReplaceAll(old, "@@HOMEBREW_PREFIX@@", newPrefix)
		if fileExists(expanded) {
			return expanded
		}
		return systemLinker()
	}

	if glibc, ok := detectZerobrewGlibc(newPrefix); ok {
		return glibc
	}
	return systemLinker()
}

// detectZerobrewGlibc scans <prefix>/Cellar/glibc/*/lib for a dynamic
// linker, newest version winning under lexicographic-descending sort
// (matching the original's glibc_versions.sort();.reverse()).
func detectZerobrewGlibc(prefix string) (string, bool) {
	glibcRoot := filepath.Join(prefix, "Cellar", "glibc")
	versions, err := os.ReadDir(glibcRoot)
	if err != nil {
		return "", false
	}

	var names []string
	for _, v := range versions {
		if v.IsDir() {
			names = append(names, v.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, version := range names {
		libDir := filepath.Join(glibcRoot, version, "lib")
		entries, err := os.ReadDir(libDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if matchesLinkerName(name) {
				return filepath.Join(libDir, name), true
			}
		}
	}
	return "", false
}

func matchesLinkerName(name string) bool {
	return (strings.HasPrefix(name, "ld-linux") && strings.Contains(name, ".so")) ||
		strings.HasPrefix(name, "ld64.so")
}

// systemLinkerCandidates is the fixed architecture-specific candidate
// list from §4.5.2 step 5.
var systemLinkerCandidates = []string{
	"ld-linux-x86-64.so.2",
	"ld-linux-aarch64.so.1",
	"ld-linux-armhf.so.3",
	"ld-linux.so.3",
	"ld-linux.so.2",
	"ld64.so.2",
	"ld64.so.1",
}

var systemLinkerDirs = []string{"/lib64", "/usr/lib64", "/lib", "/usr/lib"}

func systemLinker() string {
	for _, dir := range systemLinkerDirs {
		for _, name := range systemLinkerCandidates {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				return candidate
			}
		}
	}
	return "/lib64/ld-linux-x86-64.so.2" // last resort: most common default
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func vaddrToFileOffset(f *elf.File, vaddr uint64) (int, error) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			return int(p.Off + (vaddr - p.Vaddr)), nil
		}
	}
	return 0, fmt.Errorf("vaddr %#x not covered by any PT_LOAD segment", vaddr)
}

func readCStringFromRaw(raw []byte, fileOffset int) string {
	if fileOffset < 0 || fileOffset >= len(raw) {
		return ""
	}
	end := fileOffset
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	return string(raw[fileOffset:end])
}

func trimNUL(data []byte) []byte {
	for i, b := range data {
		if b == 0 {
			return data[:i]
		}
	}
	return data
}

// applyELFPatch writes the planned string replacements. A replacement that
// fits within the space occupied by the original NUL-terminated string is
// patched in place; one that doesn't (the common case once a placeholder
// like @@HOMEBREW_PREFIX@@ is expanded to a real, longer install prefix) is
// relocated into a freshly appended segment by growELF rather than being
// rejected.
func applyELFPatch(path string, raw []byte, info os.FileInfo, patch *elfPatch) error {
	buf := make([]byte, len(raw))
	copy(buf, raw)

	rpathGrows := patch.rpathNew != "" && len(patch.rpathNew) > patch.rpathOldLen
	interpGrows := patch.interpNew != "" && len(patch.interpNew) > patch.interpOldLen

	if patch.rpathNew != "" && !rpathGrows {
		if err := patchCString(buf, patch.rpathFileOffset, patch.rpathOldLen, patch.rpathNew); err != nil {
			return fmt.Errorf("patching rpath: %w", err)
		}
	}
	if patch.interpNew != "" && !interpGrows {
		if err := patchCString(buf, patch.interpFileOffset, patch.interpOldLen, patch.interpNew); err != nil {
			return fmt.Errorf("patching interpreter: %w", err)
		}
	}

	if rpathGrows || interpGrows {
		grown, err := growELF(buf, patch, rpathGrows, interpGrows)
		if err != nil {
			return fmt.Errorf("relocating oversized rpath/interpreter: %w", err)
		}
		buf = grown
	}

	return withWritable(path, func() error {
		tmp, err := os.CreateTemp(filepath.Dir(path), ".zerobrew-elf-*")
		if err != nil {
			return err
		}
		tmpPath := tmp.Name()
		if _, err := tmp.Write(buf); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return err
		}
		if err := os.Chmod(tmpPath, info.Mode()); err != nil {
			os.Remove(tmpPath)
			return err
		}
		return os.Rename(tmpPath, path)
	})
}

// patchCString overwrites an existing NUL-terminated string in place. The
// caller is responsible for routing anything that doesn't fit to growELF
// instead; this function only handles the fits-in-the-original-slot case.
func patchCString(buf []byte, offset, oldLen int, newValue string) error {
	if len(newValue) > oldLen {
		return fmt.Errorf("replacement %q (%d bytes) does not fit in original %d-byte slot", newValue, len(newValue), oldLen)
	}
	copy(buf[offset:offset+len(newValue)], newValue)
	for i := offset + len(newValue); i < offset+oldLen+1 && i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// growELF relocates an RPATH/RUNPATH and/or interpreter replacement that
// doesn't fit in its original slot by appending a new PT_LOAD segment to
// the file, rather than truncating or rejecting the write:
//
//   - a copy of the existing dynamic string table with the new, longer
//     RPATH/RUNPATH appended to its tail (every pre-existing string keeps
//     its old offset, so only DT_STRTAB, DT_STRSZ and the patched
//     DT_RPATH/DT_RUNPATH entry need new values), and/or
//   - the new interpreter path, referenced directly by a relocated
//     PT_INTERP program header (the interpreter path isn't part of the
//     dynamic string table).
//
// Most binaries have no spare room in their program header table for the
// extra PT_LOAD entry this requires, so the whole table is rebuilt with
// one more entry and placed inside the new segment - alongside the
// strings - so it stays inside mapped memory for AT_PHDR.
//
// This mirrors what the original's arwen-based rewrite does to its ELF
// containers; debug/elf has no equivalent write path of its own.
func growELF(buf []byte, patch *elfPatch, rpathGrows, interpGrows bool) ([]byte, error) {
	if !patch.is64 {
		return nil, fmt.Errorf("relocating an oversized string requires a 64-bit ELF file")
	}
	order := patch.byteOrder

	const phdrSize = 56 // sizeof(Elf64_Phdr)
	phoff := int(order.Uint64(buf[32:40]))
	phentsize := int(order.Uint16(buf[54:56]))
	phnum := int(order.Uint16(buf[56:58]))
	if phentsize != phdrSize {
		return nil, fmt.Errorf("unexpected program header entry size %d", phentsize)
	}
	if phoff < 0 || phoff+phnum*phdrSize > len(buf) {
		return nil, fmt.Errorf("program header table out of range")
	}

	oldPhdrs := make([]byte, phnum*phdrSize)
	copy(oldPhdrs, buf[phoff:phoff+phnum*phdrSize])

	var maxEnd uint64
	for i := 0; i < phnum; i++ {
		entry := oldPhdrs[i*phdrSize : (i+1)*phdrSize]
		if order.Uint32(entry[0:4]) != uint32(elf.PT_LOAD) {
			continue
		}
		vaddr := order.Uint64(entry[16:24])
		memsz := order.Uint64(entry[40:48])
		if end := vaddr + memsz; end > maxEnd {
			maxEnd = end
		}
	}
	newVaddr := (maxEnd + elfPageSize - 1) / elfPageSize * elfPageSize

	var stringsBlob []byte
	var newDynstrSize, rpathOffsetInStrtab int
	if rpathGrows {
		stringsBlob = append(stringsBlob, buf[patch.dynStrtabFileOff:patch.dynStrtabFileOff+patch.dynStrtabSize]...)
		rpathOffsetInStrtab = len(stringsBlob)
		stringsBlob = append(stringsBlob, []byte(patch.rpathNew)...)
		stringsBlob = append(stringsBlob, 0)
		newDynstrSize = len(stringsBlob)
	}

	interpOffsetInBlob := len(stringsBlob)
	if interpGrows {
		stringsBlob = append(stringsBlob, []byte(patch.interpNew)...)
		stringsBlob = append(stringsBlob, 0)
	}

	base := len(buf)
	mod := int(newVaddr % elfPageSize)
	pad := (mod - base%elfPageSize + elfPageSize) % elfPageSize
	newOffset := base + pad

	newPhdrTableOffsetInTrailing := len(stringsBlob)
	newPhnum := phnum + 1
	newPhdrs := make([]byte, newPhnum*phdrSize)
	copy(newPhdrs, oldPhdrs)

	if interpGrows {
		for i := 0; i < phnum; i++ {
			entry := newPhdrs[i*phdrSize : (i+1)*phdrSize]
			if order.Uint32(entry[0:4]) != uint32(elf.PT_INTERP) {
				continue
			}
			newFileOff := uint64(newOffset + interpOffsetInBlob)
			newSegVaddr := newVaddr + uint64(interpOffsetInBlob)
			newLen := uint64(len(patch.interpNew) + 1)
			order.PutUint64(entry[8:16], newFileOff)   // p_offset
			order.PutUint64(entry[16:24], newSegVaddr) // p_vaddr
			order.PutUint64(entry[24:32], newSegVaddr) // p_paddr
			order.PutUint64(entry[32:40], newLen)      // p_filesz
			order.PutUint64(entry[40:48], newLen)      // p_memsz
			break
		}
	}

	trailingTotal := len(stringsBlob) + len(newPhdrs)
	newEntry := newPhdrs[phnum*phdrSize : (phnum+1)*phdrSize]
	order.PutUint32(newEntry[0:4], uint32(elf.PT_LOAD))
	order.PutUint32(newEntry[4:8], uint32(elf.PF_R))
	order.PutUint64(newEntry[8:16], uint64(newOffset))
	order.PutUint64(newEntry[16:24], newVaddr)
	order.PutUint64(newEntry[24:32], newVaddr)
	order.PutUint64(newEntry[32:40], uint64(trailingTotal))
	order.PutUint64(newEntry[40:48], uint64(trailingTotal))
	order.PutUint64(newEntry[48:56], elfPageSize)

	out := make([]byte, 0, newOffset+trailingTotal)
	out = append(out, buf[:base]...)
	out = append(out, make([]byte, pad)...)
	out = append(out, stringsBlob...)
	out = append(out, newPhdrs...)

	order.PutUint64(out[32:40], uint64(newOffset+newPhdrTableOffsetInTrailing)) // e_phoff
	order.PutUint16(out[56:58], uint16(newPhnum))                               // e_phnum

	if rpathGrows {
		order.PutUint64(out[patch.dtStrtabValFileOff:patch.dtStrtabValFileOff+8], newVaddr)
		order.PutUint64(out[patch.dtStrszValFileOff:patch.dtStrszValFileOff+8], uint64(newDynstrSize))
		order.PutUint64(out[patch.rpathDynValFileOff:patch.rpathDynValFileOff+8], uint64(rpathOffsetInStrtab))
	}

	return out, nil
}

// sliceReaderAt adapts a byte slice to io.ReaderAt so debug/elf can parse
// an already-read-into-memory file without a second pass over disk.
type sliceReaderAt struct {
	data []byte
}

func newSliceReaderAt(data []byte) *sliceReaderAt {
	return &sliceReaderAt{data: data}
}

func (r *sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at offset %d", off)
	}
	return n, nil
}
