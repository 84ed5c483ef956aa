// Package roster implements the binary roster format: a relocatable blob that
// stores a system name and its members with absolute little-endian pointers so
// the badge can read it straight out of memory-mapped flash.
//
// A blob starts with a 64-byte header:
//
//	off  size  field
//	  0     4  magic 0x0000a2b5
//	  4     2  version (1)
//	  6     2  reserved
//	  8     8  name pointer (addr u32, len u32)
//	 16     8  member pointer (addr u32, count u32)
//	 24    38  reserved
//	 62     2  CRC-16/BUYPASS of bytes 0..62
//
// The member pointer addresses an array of 16-byte records, each holding a
// name pointer and a pronouns pointer. Every address is absolute, so a blob is
// only valid at the load address it was built for. The checksum covers the
// header only; payload integrity is the job of the sysfile wrapper.
//
// [Owned] builds blobs and [Reader] views them without copying. Both satisfy
// [System], the capability set the menu and the USB handler consume.
package roster
