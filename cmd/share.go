package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"calshare/internal/models"

	"github.com/urfave/cli/v2"
)

func phoneFlag() cli.Flag {
	return &cli.StringFlag{Name: "phone", Usage: "Your phone number. Defaults to the configured one."}
}

func myPhone(c *cli.Context, d *deps) (string, error) {
	phone := d.cfg.Phone
	if c.IsSet("phone") {
		phone = c.String("phone")
	}
	if phone == "" {
		return "", fmt.Errorf("phone is not configured; pass --phone or set CALSHARE_PHONE")
	}
	return phone, nil
}

func inviteCommand() *cli.Command {
	return &cli.Command{
		Name:  "invite",
		Usage: "Read and answer invitations addressed to you.",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List invitations addressed to your phone number.",
				Flags: []cli.Flag{phoneFlag()},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					phone, err := myPhone(c, d)
					if err != nil {
						return err
					}
					recs, err := d.router.List(c.Context, phone)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "EVENT\tSTART\tTITLE\tFROM\tSTATUS")
					for _, r := range recs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.EventID,
							r.StartTime.Local().Format("2006-01-02 15:04"), r.Title, r.OrganizerName, r.Status)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "rsvp",
				Usage:     "Answer an invitation: pending, going, interested or not_interested.",
				ArgsUsage: "EVENT_ID STATUS",
				Flags:     []cli.Flag{phoneFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected EVENT_ID and STATUS")
					}
					status, err := models.ParseStatus(c.Args().Get(1))
					if err != nil {
						return err
					}
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					phone, err := myPhone(c, d)
					if err != nil {
						return err
					}
					rec, err := d.router.UpdateStatus(c.Context, phone, c.Args().First(), status)
					if err != nil {
						return err
					}
					fmt.Printf("%s: %s\n", rec.Title, rec.Status)
					return nil
				},
			},
		},
	}
}

func shareCommand() *cli.Command {
	return &cli.Command{
		Name:  "share",
		Usage: "Share your calendar with other people.",
		Subcommands: []*cli.Command{
			{
				Name:      "grant",
				Usage:     "Share your upcoming events with a phone number.",
				ArgsUsage: "PHONE",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Value: 30, Usage: "Number of days from now included in the snapshot."},
				},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					now := time.Now()
					listing, err := d.events.List(c.Context, d.sess, models.Window{
						Start: now,
						End:   now.Add(time.Duration(c.Int("days")) * 24 * time.Hour),
					})
					if err != nil {
						return err
					}
					res, err := d.sharing.Share(c.Context, d.sess, c.Args().First(), models.Summaries(listing.Events), d.sess.DeviceInfo)
					if err != nil {
						return err
					}
					fmt.Printf("Shared %d events with %s (status %s, invite sent: %t)\n",
						len(res.Entry.EventsSnapshot), res.RecipientKey, res.Entry.Status, res.InviteSent)
					for _, w := range res.Warnings {
						fmt.Println("  warning: " + w.Error())
					}
					return nil
				},
			},
			{
				Name:      "accept",
				Usage:     "Accept a share and import its events.",
				ArgsUsage: "SHARER_ID",
				Flags:     []cli.Flag{phoneFlag()},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					phone, err := myPhone(c, d)
					if err != nil {
						return err
					}
					res, err := d.sharing.Accept(c.Context, d.sess, phone, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Printf("Accepted. Imported %d events.\n", res.Imported)
					for _, e := range res.ImportErrors {
						fmt.Println("  import failed: " + e.Error())
					}
					return nil
				},
			},
			{
				Name:      "reject",
				Usage:     "Reject a share.",
				ArgsUsage: "SHARER_ID",
				Flags:     []cli.Flag{phoneFlag()},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					phone, err := myPhone(c, d)
					if err != nil {
						return err
					}
					if _, err := d.sharing.Reject(c.Context, d.sess, phone, c.Args().First()); err != nil {
						return err
					}
					fmt.Println("Rejected.")
					return nil
				},
			},
			{
				Name:      "revoke",
				Usage:     "Stop sharing your calendar with a phone number.",
				ArgsUsage: "PHONE",
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					if err := d.sharing.Unshare(c.Context, d.sess.UserID, c.Args().First()); err != nil {
						return err
					}
					fmt.Println("Revoked.")
					return nil
				},
			},
			{
				Name:      "status",
				Usage:     "Check the state of your shares with one or more phone numbers.",
				ArgsUsage: "PHONE...",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one phone number is required")
					}
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					results := d.sharing.CheckAll(c.Context, d.sess, c.Args().Slice())
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "PHONE\tSTATE\tDETAIL")
					for _, r := range results {
						detail := ""
						if r.Err != nil {
							detail = r.Err.Error()
						} else if r.Entry != nil {
							detail = "updated " + r.Entry.LastUpdated.Local().Format("2006-01-02 15:04")
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Phone, r.State, detail)
					}
					return tw.Flush()
				},
			},
			{
				Name:  "incoming",
				Usage: "List calendars shared with you.",
				Flags: []cli.Flag{phoneFlag()},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					phone, err := myPhone(c, d)
					if err != nil {
						return err
					}
					entries, err := d.sharing.Incoming(c.Context, phone)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SHARER\tNAME\tEVENTS\tSTATUS")
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.SharerID, e.SharerName, len(e.EventsSnapshot), e.Status)
					}
					return tw.Flush()
				},
			},
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage your account.",
		Subcommands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Register your phone number so people sharing with you are not sent an invite text.",
				Flags: []cli.Flag{
					phoneFlag(),
					&cli.StringFlag{Name: "email", Usage: "Contact email."},
				},
				Action: func(c *cli.Context) error {
					d, err := wire(c)
					if err != nil {
						return err
					}
					defer d.close()
					phone, err := myPhone(c, d)
					if err != nil {
						return err
					}
					u, err := d.sharing.Register(c.Context, d.sess, phone, c.String("email"))
					if err != nil {
						return err
					}
					fmt.Printf("Registered %s as %s.\n", u.ID, u.PhoneKey)
					return nil
				},
			},
		},
	}
}
