package ir

// GetPath walks path through nested objects.
// Returns (nil, false) when any segment is missing; a null in the middle of
// the path yields (IRNull, true) only if it is the final segment.
func GetPath(v IRValue, path []string) (IRValue, bool) {
	cur := v
	for _, seg := range path {
		obj, ok := cur.(IRObject)
		if !ok {
			return nil, false
		}
		next, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath returns a copy of obj with value placed at path, creating
// intermediate objects as needed.
func SetPath(obj IRObject, path []string, value IRValue) IRObject {
	if len(path) == 0 {
		return obj
	}
	out := make(IRObject, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	if len(path) == 1 {
		out[path[0]] = value
		return out
	}
	child, _ := out[path[0]].(IRObject)
	out[path[0]] = SetPath(child, path[1:], value)
	return out
}
