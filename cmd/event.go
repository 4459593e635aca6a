package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"calshare/internal/eventstore"
	"calshare/internal/models"

	"github.com/urfave/cli/v2"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q, use RFC 3339 or \"YYYY-MM-DD HH:MM\"", s)
}

// parseAttendee reads "contact" or "Name <contact>", where contact is a
// phone number or an email address.
func parseAttendee(s string) models.Attendee {
	var a models.Attendee
	contact := strings.TrimSpace(s)
	if i := strings.Index(contact, "<"); i >= 0 && strings.HasSuffix(contact, ">") {
		a.Name = strings.TrimSpace(contact[:i])
		contact = strings.TrimSpace(contact[i+1 : len(contact)-1])
	}
	if strings.Contains(contact, "@") {
		a.Email = contact
	} else {
		a.PhoneNumber = contact
	}
	return a
}

func eventFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Usage: "Event title."},
		&cli.StringFlag{Name: "start", Usage: "Start time (RFC 3339 or \"YYYY-MM-DD HH:MM\" local)."},
		&cli.StringFlag{Name: "end", Usage: "End time (RFC 3339 or \"YYYY-MM-DD HH:MM\" local)."},
		&cli.StringFlag{Name: "location", Usage: "Event location."},
		&cli.StringFlag{Name: "notes", Usage: "Free-form notes."},
		&cli.StringSliceFlag{Name: "attendee", Usage: "Attendee as phone, email or \"Name <contact>\". Repeatable."},
	}
}

func eventCommand() *cli.Command {
	return &cli.Command{
		Name:  "event",
		Usage: "Create, edit and inspect shared events.",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an event on the device calendar and share it with its attendees.",
				Flags: eventFlags(),
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()

					details := eventstore.Details{
						Title:    c.String("title"),
						Location: c.String("location"),
						Notes:    c.String("notes"),
					}
					if details.StartTime, err = parseTime(c.String("start")); err != nil {
						return err
					}
					if details.EndTime, err = parseTime(c.String("end")); err != nil {
						return err
					}
					for _, s := range c.StringSlice("attendee") {
						details.Attendees = append(details.Attendees, parseAttendee(s))
					}

					res, err := d.events.Save(c.Context, d.sess, details)
					if err != nil {
						return err
					}
					printResult("Created", res)
					return nil
				},
			},
			{
				Name:      "update",
				Usage:     "Change the given fields of an event.",
				ArgsUsage: "EVENT_ID",
				Flags: append(eventFlags(),
					&cli.BoolFlag{Name: "clear-attendees", Usage: "Remove every attendee."},
				),
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("event id is required")
					}
					patch, err := patchFromFlags(c)
					if err != nil {
						return err
					}
					if patch.IsEmpty() {
						return fmt.Errorf("nothing to update")
					}

					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					res, err := d.events.Update(c.Context, d.sess, id, patch)
					if err != nil {
						return err
					}
					printResult("Updated", res)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete an event and withdraw its invitations.",
				ArgsUsage: "EVENT_ID",
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					res, err := d.events.Delete(c.Context, d.sess, c.Args().First())
					if err != nil {
						return err
					}
					printResult("Deleted", res)
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "Show one event.",
				ArgsUsage: "EVENT_ID",
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					e, err := d.events.Get(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					printEvent(e)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List your events, falling back to the offline cache when the shared calendar is unreachable.",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Value: 7, Usage: "Number of days from now to list."},
				},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					now := time.Now()
					w := models.Window{Start: now, End: now.Add(time.Duration(c.Int("days")) * 24 * time.Hour)}
					listing, err := d.events.List(c.Context, d.sess, w)
					if err != nil {
						return err
					}
					if listing.FromCache {
						fmt.Printf("Showing cached data from %s.\n", listing.CachedAt.Local().Format(time.RFC1123))
					}
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSTART\tEND\tTITLE")
					for _, e := range listing.Events {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID,
							e.StartTime.Local().Format("2006-01-02 15:04"), e.EndTime.Local().Format("15:04"), e.Title)
					}
					return tw.Flush()
				},
			},
		},
	}
}

func patchFromFlags(c *cli.Context) (eventstore.Patch, error) {
	var p eventstore.Patch
	str := func(name string) *string {
		if !c.IsSet(name) {
			return nil
		}
		v := c.String(name)
		return &v
	}
	p.Title = str("title")
	p.Location = str("location")
	p.Notes = str("notes")
	for _, name := range []string{"start", "end"} {
		if !c.IsSet(name) {
			continue
		}
		t, err := parseTime(c.String(name))
		if err != nil {
			return p, err
		}
		if name == "start" {
			p.StartTime = &t
		} else {
			p.EndTime = &t
		}
	}
	if c.IsSet("attendee") || c.Bool("clear-attendees") {
		var attendees []models.Attendee
		for _, s := range c.StringSlice("attendee") {
			attendees = append(attendees, parseAttendee(s))
		}
		p.Attendees = &attendees
	}
	return p, nil
}

func printResult(verb string, res *eventstore.Result) {
	fmt.Printf("%s %s (%s)\n", verb, res.Event.ID, res.Event.Title)
	for _, w := range res.Warnings {
		fmt.Println("  warning: " + w.Error())
	}
}

func printEvent(e *models.Event) {
	fmt.Printf("ID:        %s\n", e.ID)
	fmt.Printf("Title:     %s\n", e.Title)
	fmt.Printf("When:      %s - %s\n", e.StartTime.Local().Format("2006-01-02 15:04"), e.EndTime.Local().Format("2006-01-02 15:04"))
	if e.Location != "" {
		fmt.Printf("Location:  %s\n", e.Location)
	}
	if e.Notes != "" {
		fmt.Printf("Notes:     %s\n", e.Notes)
	}
	for _, a := range e.Attendees {
		contact := a.PhoneNumber
		if contact == "" {
			contact = a.Email
		}
		fmt.Printf("Attendee:  %s %s (%s)\n", a.Name, contact, a.Status)
	}
	fmt.Printf("Modified:  %s\n", e.LastModified.Local().Format(time.RFC1123))
}
