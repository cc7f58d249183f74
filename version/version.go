package version

// HarborSemVer is the current version of the harbor node.
const HarborSemVer = "0.1.0"
