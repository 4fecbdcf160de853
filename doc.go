// Package pak streams game assets out of mounted archives.
//
// A [Streamer] owns a set of mounted archives (pak files or eStargz
// layers), an optional block cache in front of their byte sources, a
// directory of loose files, and an XML data patcher. Opening a file
// follows one path:
//
//  1. The compression resolver asks each mounted archive, in mount order,
//     whether it holds the path.
//  2. The archive's conflict resolution decides between its copy and a
//     loose file with the same name.
//  3. The archive reads the stored bytes through the block cache and
//     decodes them with the codec named by the entry's compressor tag.
//
// XML manifests loaded with [Streamer.LoadXML] are parsed, patched, and
// cached until the set of mounts or the patch document changes.
//
// # Quick Start
//
//	bc, err := memory.New(memory.WithMaxBlocks(4096))
//	if err != nil {
//	    return err
//	}
//	s, err := pak.New(pak.WithBlockCache(bc), pak.WithLooseRoot("./assets"))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if _, err := s.MountFile("levels.pak", pak.ArchiveOpener(archive.WithMountPrefix("levels"))); err != nil {
//	    return err
//	}
//	doc, err := s.LoadXML("levels/forest/level.xml")
package pak
