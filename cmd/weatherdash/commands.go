package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/weatherdash/internal/activity"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/preferences"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/settings"
	"github.com/MarcoPoloResearchLab/weatherdash/internal/weather"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) printJSON(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *app) printSettings() error {
	return a.printJSON(a.store.Settings())
}

func newSettingsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSettings()
		},
	}

	var (
		theme         string
		region        string
		units         string
		notifications bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch settings.Patch
			flags := cmd.Flags()
			if flags.Changed("theme") {
				value := settings.Theme(theme)
				patch.Theme = &value
			}
			if flags.Changed("region") {
				value := settings.Region(strings.ToUpper(region))
				patch.Region = &value
			}
			if flags.Changed("units") {
				value := settings.Units(units)
				patch.Units = &value
			}
			if flags.Changed("notifications") {
				patch.Notifications = &notifications
			}
			if patch.IsEmpty() {
				return fmt.Errorf("nothing to change; pass --theme, --region, --units or --notifications")
			}
			if err := a.store.UpdateSettings(cmd.Context(), patch); err != nil {
				return err
			}
			return a.printSettings()
		},
	}
	set.Flags().StringVar(&theme, "theme", "", "light, dark or auto")
	set.Flags().StringVar(&region, "region", "", "TR, EU, AF, NA, SA, AS, OC or ALL")
	set.Flags().StringVar(&units, "units", "", "metric or imperial")
	set.Flags().BoolVar(&notifications, "notifications", false, "Enable notifications")

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Follow settings changes made from other devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := a.store.Identity()
			if identity == nil {
				return fmt.Errorf("watch requires a signed-in session")
			}
			updates, err := a.api.WatchSettings(cmd.Context(), identity.UID)
			if err != nil {
				return err
			}
			for document := range updates {
				if err := a.printJSON(document); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(show, set, watch)
	return cmd
}

func newFavoritesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage favorite cities",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List favorite cities",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, city := range a.store.Settings().Favorites {
					fmt.Fprintln(a.out, city)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <city>",
			Short: "Add a favorite city",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.AddFavorite(cmd.Context(), strings.Join(args, " ")); err != nil {
					return err
				}
				return a.printJSON(a.store.Settings().Favorites)
			},
		},
		&cobra.Command{
			Use:   "remove <city>",
			Short: "Remove a favorite city",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.RemoveFavorite(cmd.Context(), strings.Join(args, " ")); err != nil {
					return err
				}
				return a.printJSON(a.store.Settings().Favorites)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every favorite city",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.store.ClearFavorites(cmd.Context())
			},
		},
	)
	return cmd
}

func newSearchesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "searches",
		Aliases: []string{"search"},
		Short:   "Manage recent searches",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recent searches, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, city := range a.store.Settings().RecentSearches {
					fmt.Fprintln(a.out, city)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <city>",
			Short: "Record a search",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.AddSearch(cmd.Context(), strings.Join(args, " ")); err != nil {
					return err
				}
				return a.printJSON(a.store.Settings().RecentSearches)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget recent searches",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.store.ClearSearches(cmd.Context())
			},
		},
	)
	return cmd
}

func newLanguageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "language <code>",
		Short: "Set the interface language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.SetLanguage(cmd.Context(), strings.ToLower(args[0])); err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.store.Settings().Language)
			return nil
		},
	}
}

func newResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.ResetSettings(cmd.Context()); err != nil {
				return err
			}
			return a.printSettings()
		},
	}
}

func newLoginCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
	}

	anonymous := &cobra.Command{
		Use:   "anonymous",
		Short: "Sign in with a new anonymous identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := a.store.LoginAnonymously(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.waitForIdentity(cmd.Context(), identity.UID); err != nil {
				return err
			}
			return a.printIdentity()
		},
	}

	var email, password string
	withEmail := &cobra.Command{
		Use:   "email",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := resolvePassword(password)
			if err != nil {
				return err
			}
			identity, err := a.api.SignIn(cmd.Context(), email, secret)
			if err != nil {
				return err
			}
			if err := a.waitForIdentity(cmd.Context(), identity.UID); err != nil {
				return err
			}
			return a.printIdentity()
		},
	}
	withEmail.Flags().StringVar(&email, "email", "", "Account email")
	withEmail.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	_ = withEmail.MarkFlagRequired("email")

	cmd.AddCommand(anonymous, withEmail)
	return cmd
}

func newRegisterCommand(a *app) *cobra.Command {
	var email, password, displayName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an email account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := resolvePassword(password)
			if err != nil {
				return err
			}
			identity, err := a.api.Register(cmd.Context(), email, secret, displayName)
			if err != nil {
				return err
			}
			if err := a.waitForIdentity(cmd.Context(), identity.UID); err != nil {
				return err
			}
			return a.printIdentity()
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and fall back to device settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Logout(cmd.Context()); err != nil {
				return err
			}
			return a.waitForIdentity(cmd.Context(), "")
		},
	}
}

func newWhoAmICommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity and role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printIdentity()
		},
	}
}

type identityView struct {
	State    preferences.State     `json:"state"`
	Identity *preferences.Identity `json:"identity"`
	Role     preferences.Role      `json:"role"`
}

func (a *app) printIdentity() error {
	return a.printJSON(identityView{
		State:    a.store.State(),
		Identity: a.store.Identity(),
		Role:     a.store.Role(),
	})
}

func newWeatherCommand(a *app) *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Query weather through the backend",
	}
	cmd.PersistentFlags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.PersistentFlags().Float64Var(&lon, "lon", 0, "Longitude")

	// buildQuery prefers explicit coordinates, then the city argument, then the
	// most recent search.
	buildQuery := func(cmd *cobra.Command, args []string) (weather.Query, error) {
		current := a.store.Settings()
		query := weather.Query{Units: string(current.Units), Language: current.Language}
		switch {
		case cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon"):
			query.Coordinates = &weather.Coordinates{Lat: lat, Lon: lon}
		case len(args) > 0:
			query.City = strings.Join(args, " ")
		case len(current.RecentSearches) > 0:
			query.City = current.RecentSearches[0]
		default:
			return weather.Query{}, fmt.Errorf("pass a city or --lat/--lon")
		}
		return query, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "current [city]",
			Short: "Current conditions",
			RunE: func(cmd *cobra.Command, args []string) error {
				query, err := buildQuery(cmd, args)
				if err != nil {
					return err
				}
				current, err := a.api.CurrentWeather(cmd.Context(), query)
				if err != nil {
					return err
				}
				if query.City != "" {
					if err := a.store.AddSearch(cmd.Context(), query.City); err != nil {
						a.logger.Debug("search not recorded", zap.Error(err))
					}
				}
				return a.printJSON(current)
			},
		},
		&cobra.Command{
			Use:   "forecast [city]",
			Short: "Five day forecast",
			RunE: func(cmd *cobra.Command, args []string) error {
				query, err := buildQuery(cmd, args)
				if err != nil {
					return err
				}
				forecast, err := a.api.Forecast(cmd.Context(), query)
				if err != nil {
					return err
				}
				writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(writer, "%s, %s\n", forecast.City, forecast.Country)
				for _, day := range forecast.Days {
					fmt.Fprintf(writer, "%s\t%.1f\t%s\t%s\n", day.Date, day.Temperature, day.Condition, day.Description)
				}
				return writer.Flush()
			},
		},
		&cobra.Command{
			Use:   "air [city]",
			Short: "Air quality",
			RunE: func(cmd *cobra.Command, args []string) error {
				query, err := buildQuery(cmd, args)
				if err != nil {
					return err
				}
				air, err := a.api.AirQuality(cmd.Context(), query)
				if err != nil {
					return err
				}
				return a.printJSON(air)
			},
		},
	)
	return cmd
}

func newCitiesCommand(a *app) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "cities <query>",
		Short: "Suggest cities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := settings.Region(strings.ToUpper(region))
			if region == "" {
				selected = a.store.Settings().Region
			}
			suggestions, err := a.api.Cities(cmd.Context(), strings.Join(args, " "), selected)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, suggestion := range suggestions {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%.4f,%.4f\n", suggestion.Name, suggestion.Region, suggestion.Country, suggestion.Latitude, suggestion.Longitude)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Region filter (defaults to the region setting)")
	return cmd
}

func newAdminCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}
	var filter activity.ListFilter
	logs := &cobra.Command{
		Use:   "logs",
		Short: "List activity records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.store.IsAdmin() {
				return fmt.Errorf("admin role required")
			}
			records, err := a.api.AdminLogs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, record := range records {
				who := record.UserEmail
				if who == "" {
					who = record.UserID
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\n", record.Timestamp.Local().Format(time.DateTime), record.Action, who)
			}
			return writer.Flush()
		},
	}
	logs.Flags().StringVar(&filter.Action, "action", "", "Only records with this action")
	logs.Flags().StringVar(&filter.UserID, "user", "", "Only records for this uid")
	logs.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum records")
	cmd.AddCommand(logs)
	return cmd
}
