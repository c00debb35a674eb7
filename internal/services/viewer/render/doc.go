// Package render holds the viewer's progression consumers. They translate
// growth state and events into visual parameters and log them; drawing is
// left to whatever front end embeds the viewer.
package render
