// Package zdict implements C7: deflate/inflate of SPDY header blocks bound to the
// SPDY/1 preset header-compression dictionary. The dictionary bytes
// are part of the wire protocol — every peer must compress and
// decompress against the exact same preset bytes — so Dictionary is a
// byte-for-byte transcription of the reference implementation's
// literal, not a re-derivation.
package zdict

// Dictionary is SPDY/1's preset deflate dictionary: header names and
// common values front-loaded so the very first header block on a
// connection already has useful backreferences, plus the literal
// token the protocol itself requires ("gzip", "chunked", "HTTP/1.1",
// and so on).
var Dictionary = []byte("" +
	"optionsgetheadpostputdeletetraceacceptaccept-charsetaccept-encodingaccept-" +
	"languageauthorizationexpectfromhostif-modified-sinceif-matchif-none-matchi" +
	"f-rangeif-unmodifiedsincemax-forwardsproxy-authorizationrangerefererteuser" +
	"-agent10010120020120220320420520630030130230330430530630740040140240340440" +
	"5406407408409410411412413414415416417500501502503504505accept-rangesageeta" +
	"glocationproxy-authenticatepublicretry-afterservervarywarningwww-authentic" +
	"ateallowcontent-basecontent-encodingcache-controlconnectiondatetrailertran" +
	"sfer-encodingupgradeviawarningcontent-languagecontent-lengthcontent-locati" +
	"oncontent-md5content-rangecontent-typeetagexpireslast-modifiedset-cookieMo" +
	"ndayTuesdayWednesdayThursdayFridaySaturdaySundayJanFebMarAprMayJunJulAugSe" +
	"pOctNovDecchunkedtext/htmlimage/pngimage/jpgimage/gifapplication/xmlapplic" +
	"ation/xhtmltext/plainpublicmax-agecharset=iso-8859-1utf-8gzipdeflateHTTP/1" +
	".1statusversionurl")
