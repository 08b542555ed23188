// Package cipher manages the double-buffered key material used to encrypt
// data packets for one subscriber connection.
//
// Two slots, even and odd, each hold an AES-256 key and IV. The first
// rotation fills both; every later rotation replaces the standby slot and
// makes it active. The slot that was active stays available as standby, so
// packets already encrypted under it can still be decrypted after the
// subscriber learns of the switch.
package cipher
