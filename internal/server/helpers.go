package server

import "fmt"

// layerFilename returns the conventional name a layer index is served and
// cached under.
func layerFilename(index int) string {
	return fmt.Sprintf("layer-%03d.png", index)
}
