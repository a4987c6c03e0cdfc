package krpc

/*
Every KRPC message is one bencoded dictionary.

Common keys
+-----+---------------------------------------------+
| t   | transaction id, opaque byte string          |
| y   | kind: "q" query, "r" response, "e" error    |
| v   | optional client version byte string         |
+-----+---------------------------------------------+

Query               Response            Error
+---+-------------+ +---+-------------+ +---+-----------------+
| q | method name | | r | return dict | | e | [code, message] |
| a | args dict   | +---+-------------+ +---+-----------------+
+---+-------------+

Both the args dict and the return dict carry "id", the 20 bytes node id
of the sender.
*/

const (
	KindQuery    = "q"
	KindResponse = "r"
	KindError    = "e"
)

const (
	KeyTransaction = "t"
	KeyKind        = "y"
	KeyVersion     = "v"
	KeyQuery       = "q"
	KeyArgs        = "a"
	KeyReturn      = "r"
	KeyError       = "e"

	// KeyID is the sender node id inside the args or return dict
	KeyID = "id"
)

// KRPC error codes
const (
	ErrorGeneric       = 201
	ErrorServer        = 202
	ErrorProtocol      = 203
	ErrorMethodUnknown = 204
)

func validKind(kind string) bool {
	return kind == KindQuery || kind == KindResponse || kind == KindError
}
