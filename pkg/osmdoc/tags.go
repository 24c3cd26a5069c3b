package osmdoc

// Tag is a key/value pair attached to a way.
type Tag struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// Tags is an ordered tag set. Keys are unique; setting an existing key
// replaces its value in place.
type Tags []Tag

// Set assigns value to key, keeping the position of an existing key.
func (ts *Tags) Set(key, value string) {
	for i := range *ts {
		if (*ts)[i].Key == key {
			(*ts)[i].Value = value
			return
		}
	}
	*ts = append(*ts, Tag{Key: key, Value: value})
}

// Find returns the value of key.
func (ts Tags) Find(key string) (string, bool) {
	for _, t := range ts {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Map returns the tags as a map.
func (ts Tags) Map() map[string]string {
	m := make(map[string]string, len(ts))
	for _, t := range ts {
		m[t.Key] = t.Value
	}
	return m
}
