// Command axml2xml renders a binary AXML document (or an APK's
// AndroidManifest.xml) as textual XML, adapted from the teacher's
// axml2xml tool to the buffer-based axml package.
package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/binaxml/axml"
	"github.com/binaxml/axml/container"
)

func main() {
	isApk := flag.Bool("a", false, "the input file is an apk")
	flag.Parse()

	if len(flag.Args()) != 1 {
		fmt.Fprintf(os.Stderr, "%s INPUT\n", os.Args[0])
		os.Exit(1)
	}

	input := flag.Args()[0]
	if strings.HasSuffix(input, ".apk") {
		*isApk = true
	}

	buf, err := readInput(input, *isApk)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	enc := xml.NewEncoder(os.Stdout)
	enc.Indent("", "    ")

	if err := render(buf, enc); err != nil {
		enc.Flush()
		fmt.Println()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	enc.Flush()
	fmt.Println()
}

func readInput(input string, isApk bool) ([]byte, error) {
	if input == "-" {
		return ioutil.ReadAll(os.Stdin)
	}
	if isApk {
		a, err := container.Open(input)
		if err != nil {
			return nil, err
		}
		defer a.Close()
		return a.ReadFile("AndroidManifest.xml")
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ioutil.ReadAll(f)
}

// render walks tree and writes it as textual XML through enc. It
// buffers xmlns declarations collected since the last StartElement so
// they attach as attributes of the element they scope, the way
// encoding/xml expects namespaces to be declared.
func render(buf []byte, enc *xml.Encoder) error {
	tree, err := axml.ParseTree(buf)
	if err != nil {
		return err
	}
	c := tree.Cursor()

	var pendingNS []xml.Attr

	for {
		ev, err := c.Next()
		if err != nil {
			return err
		}

		switch ev {
		case axml.EndDocument:
			return nil

		case axml.StartNamespace:
			prefix, _ := c.NamespacePrefix()
			uri, _ := c.NamespaceURI()
			name := "xmlns"
			if prefix != "" {
				name = "xmlns:" + prefix
			}
			pendingNS = append(pendingNS, xml.Attr{Name: xml.Name{Local: name}, Value: uri})

		case axml.EndNamespace:
			// scope closes implicitly when its owning element does

		case axml.StartElement:
			name, err := elementName(c)
			if err != nil {
				return err
			}
			attrs := append([]xml.Attr(nil), pendingNS...)
			pendingNS = nil

			n := c.AttributeCount()
			for i := 0; i < n; i++ {
				aname, err := attributeName(c, i)
				if err != nil {
					return err
				}
				val, err := attributeText(c, i)
				if err != nil {
					return err
				}
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: aname}, Value: val})
			}

			if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}); err != nil {
				return err
			}

		case axml.EndElement:
			name, err := elementName(c)
			if err != nil {
				return err
			}
			if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}}); err != nil {
				return err
			}

		case axml.CData:
			text, err := c.Text()
			if err != nil {
				return err
			}
			if err := enc.EncodeToken(xml.CharData(text)); err != nil {
				return err
			}
		}
	}
}

func elementName(c *axml.Cursor) (string, error) {
	local, err := c.ElementName()
	if err != nil {
		return "", err
	}
	if ns, err := c.ElementNamespace(); err == nil && ns != "" {
		return ns + ":" + local, nil
	}
	return local, nil
}

func attributeName(c *axml.Cursor, i int) (string, error) {
	local, err := c.AttributeName(i)
	if err != nil {
		return "", err
	}
	if ns, err := c.AttributeNamespace(i); err == nil && ns != "" {
		return ns + ":" + local, nil
	}
	return local, nil
}

// attributeText renders attribute i the way the AOSP manifest dumper
// does for the common cases: a string value verbatim, a decimal int as
// decimal, a boolean as true/false, everything else (hex ints,
// references, dimensions, colors) as its raw
// hex data word, since formatting those is explicitly out of scope here.
func attributeText(c *axml.Cursor, i int) (string, error) {
	dt, ok := c.AttributeDataType(i)
	if !ok {
		return "", io.ErrUnexpectedEOF
	}

	if dt == axml.TypeString {
		return c.AttributeStringValue(i)
	}

	data, _ := c.AttributeData(i)
	switch dt {
	case axml.TypeIntDec:
		return fmt.Sprintf("%d", int32(data)), nil
	case axml.TypeIntBool:
		if data != 0 {
			return "true", nil
		}
		return "false", nil
	default:
		return fmt.Sprintf("0x%08x", data), nil
	}
}
