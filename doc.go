/*

Package clientdata is a client-data access layer for a family of MMO game
clients that ship their assets in two distinct archive systems: a
generation of games using a proprietary hash-indexed archive format
("MPQ-era", package archive/mpqarchive) and a later generation using a
content-addressed, patch-capable delivery system ("CASC-era", package
archive/cascarchive). ClientData presents a single archive-agnostic read
interface so that higher-level tools can fetch an asset by either its
textual path or a 32-bit numeric identifier without knowing which
generation or physical file supplied it.

Information sources this package's algorithms are grounded on:

- The MoPaQ archive format, as documented by the wiki.devklog.net writeup
  (see archive/mpqarchive's doc comment for what its reader implements).

- The general shape of CASC's content-addressed, encoding-key-based
  lookup, simplified here to the essential path->key->blob chain (see
  archive/cascarchive's doc comment for exactly what is and isn't
  implemented).

Package layout

	locale             - Generation and Locale enums, stable ordinal tables
	listfile           - the normalized path<->FileDataID blob and bi-map
	filekey            - the FileKey value type
	archive            - the Backend contract every archive kind satisfies
	archive/mpqarchive - the MPQ backend
	archive/dirarchive  - the directory-mount/mirror backend
	archive/cascarchive - the CASC backend

The root package ties these together: ClientData discovers and orders
Backends according to client generation, serializes reads behind one
mutex, and resolves disk-mirror paths.

*/
package clientdata
