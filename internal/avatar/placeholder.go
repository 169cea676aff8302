package avatar

// PlaceholderContentType is served with PlaceholderSVG.
const PlaceholderContentType = "image/svg+xml"

// PlaceholderSVG is the 150x150 "unknown" glyph served when a card has no
// usable photo.
const PlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" version="1.1" width="150" height="150">
<rect width="150" height="150" fill="rgb(125, 125, 125)" stroke-width="1" stroke="rgb(0, 0, 0)"/>
<text x="75" y="100" text-anchor="middle" font-size="100">?</text>
</svg>`
