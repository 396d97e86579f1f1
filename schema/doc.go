// Package schema describes the structured output expected from a task and
// validates raw model output against it.
//
// Validate is pure: it extracts the first JSON object from the raw text
// (fenced ```json blocks take priority), coerces field values to their
// declared types where the conversion is lossless ("3" becomes 3, "true"
// becomes true) and reports every violated field at once so that an editing
// round can address them together.
package schema
