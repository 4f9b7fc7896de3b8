package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/astrodata/hos/pkg/hos"
)

var traceValues bool

var traceCmd = &cobra.Command{
	Use:   "trace <path>",
	Short: "Print the object tree of a container",
	Long: `Walk a container and print every object with its type and shape,
indented by depth. With --values, scalar primitive values are printed
alongside their objects.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := hos.Open(args[0], hos.AccessRead, openOptions())
		if err != nil {
			return fmt.Errorf("failed to open container: %w", err)
		}
		defer c.Close()

		root, err := c.Root()
		if err != nil {
			return err
		}
		defer root.Annul()

		return traceObject(root, 0)
	},
}

// traceObject prints one object and recurses into its children.
func traceObject(l *hos.Locator, depth int) error {
	name, err := l.Name()
	if err != nil {
		return err
	}
	typ, err := l.Type()
	if err != nil {
		return err
	}

	line := fmt.Sprintf("%s%-16s <%s>", strings.Repeat("   ", depth), name, typ)

	bounds, err := l.Bounds()
	if err != nil {
		return err
	}
	if bounds.Rank() > 0 {
		dims := make([]string, bounds.Rank())
		for i := range dims {
			if bounds.Lower[i] == 1 {
				dims[i] = fmt.Sprintf("%d", bounds.Upper[i])
			} else {
				dims[i] = fmt.Sprintf("%d:%d", bounds.Lower[i], bounds.Upper[i])
			}
		}
		line += fmt.Sprintf("  {%s}", strings.Join(dims, ","))
	} else if traceValues && typ.IsPrimitive() {
		if v, err := scalarValue(l, typ); err == nil {
			line += "  " + v
		}
	}
	fmt.Println(line)

	structure, err := l.IsStructure()
	if err != nil {
		return err
	}
	if !structure {
		return nil
	}

	names, err := l.ComponentNames()
	if err != nil {
		return err
	}
	for _, childName := range names {
		child, err := l.Find(childName)
		if err != nil {
			return err
		}
		if err := traceObject(child, depth+1); err != nil {
			child.Annul()
			return err
		}
		child.Annul()
	}
	return nil
}

// scalarValue formats a scalar primitive for display.
func scalarValue(l *hos.Locator, typ hos.DataType) (string, error) {
	switch {
	case typ.IsChar():
		s, err := l.Get0C()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%q", s), nil
	case typ == hos.TypeReal || typ == hos.TypeDouble:
		v, err := l.Get0D()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%g", v), nil
	case typ == hos.TypeLogical:
		v, err := l.Get0L()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%t", v), nil
	default:
		v, err := l.Get0K()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", v), nil
	}
}

func init() {
	traceCmd.Flags().BoolVar(&traceValues, "values", false, "print scalar primitive values")
	rootCmd.AddCommand(traceCmd)
}
