package xmlexport

import "encoding/xml"

type projectXML struct {
	XMLName        xml.Name     `xml:"project"`
	Name           string       `xml:"name,attr"`
	Parent         string       `xml:"parent,attr,omitempty"`
	IgnoreUpstream string       `xml:"ignore_upstream,attr,omitempty"`
	Packages       []packageXML `xml:"package"`
	Missing        *missingXML  `xml:"missing"`
}

type packageXML struct {
	Name     string       `xml:"name,attr"`
	Parent   *parentXML   `xml:"parent"`
	Devel    *develXML    `xml:"devel"`
	Version  *versionXML  `xml:"version"`
	Upstream *upstreamXML `xml:"upstream"`
	Link     *linkXML     `xml:"link"`
	Delta    *struct{}    `xml:"delta"`
	Error    *errorXML    `xml:"error"`
}

type parentXML struct {
	Project string `xml:"project,attr"`
}

type develXML struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr,omitempty"`
}

type versionXML struct {
	Current  string `xml:"current,attr,omitempty"`
	Upstream string `xml:"upstream,attr,omitempty"`
	Parent   string `xml:"parent,attr,omitempty"`
	Devel    string `xml:"devel,attr,omitempty"`
}

type upstreamXML struct {
	URL string `xml:"url"`
}

type linkXML struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr,omitempty"`
	Delta   string `xml:"delta,attr,omitempty"`
}

type errorXML struct {
	Type    string `xml:"type,attr"`
	Details string `xml:",chardata"`
}

type missingXML struct {
	Packages []missingPackageXML `xml:"package"`
}

type missingPackageXML struct {
	Name          string `xml:"name,attr"`
	ParentProject string `xml:"parent_project,attr"`
	ParentPackage string `xml:"parent_package,attr"`
}
