/*
Package boltstore keeps collections in a local Bolt database.

Each collection is stored in its own bucket. Rows survive restarts: sync
loads the bucket, and every mutation is written to the bucket before it is
confirmed back through the collection's sync writer.

# Encoding

**Keys.** Row keys are encoded with a type prefix so that the integer 1 and
the string "1" never collide: integers become "n:1", strings "s:1" (and the
string "n:1" becomes "s:n:1").

**Values.** Each value is a msgpack document holding the row and a version
key. The version key is a fresh id on every write; comparing version keys is
how a reload tells which rows changed.

# Sharing a bucket

Several collections may be opened on the same bucket of the same DB. A write
through one of them reloads the others, which see it as ordinary sync
changes. The writing collection is confirmed directly and is not reloaded.
*/
package boltstore
