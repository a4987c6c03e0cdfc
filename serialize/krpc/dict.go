package krpc

// Dict is a decoded bencode dictionary.
// Values are string (byte strings), int64, []interface{} and nested dictionaries.
type Dict map[string]interface{}

func asDict(v interface{}) (Dict, bool) {
	switch d := v.(type) {
	case Dict:
		return d, true
	case map[string]interface{}:
		return Dict(d), true
	default:
		return nil, false
	}
}

// String returns the byte string stored under key
func (d Dict) String(key string) (string, bool) {
	switch s := d[key].(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// Int returns the integer stored under key
func (d Dict) Int(key string) (int64, bool) {
	switch i := d[key].(type) {
	case int64:
		return i, true
	case int:
		return int64(i), true
	default:
		return 0, false
	}
}

// Sub returns the nested dictionary stored under key
func (d Dict) Sub(key string) (Dict, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	return asDict(v)
}

// List returns the list stored under key
func (d Dict) List(key string) ([]interface{}, bool) {
	switch l := d[key].(type) {
	case []interface{}:
		return l, true
	case []string:
		out := make([]interface{}, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	default:
		return nil, false
	}
}

// StringList returns the byte strings of the list stored under key, non string items are skipped
func (d Dict) StringList(key string) ([]string, bool) {
	l, ok := d.List(key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, item := range l {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		case []byte:
			out = append(out, string(s))
		}
	}
	return out, true
}
